package engine

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/suite"
)

type KeyLockSuite struct {
	suite.Suite
}

func TestKeyLockSuite(t *testing.T) {
	suite.Run(t, new(KeyLockSuite))
}

func (s *KeyLockSuite) TestSerializesSameKey() {
	locks := newKeyLocks()
	counter := 0

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release := locks.acquire("P1")
			defer release()
			counter++
		}()
	}
	wg.Wait()
	s.Equal(50, counter)
}

func (s *KeyLockSuite) TestCrossedMergeOrdersDoNotDeadlock() {
	locks := newKeyLocks()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			release := locks.acquire("A", "B")
			release()
		}()
		go func() {
			defer wg.Done()
			release := locks.acquire("B", "A")
			release()
		}()
	}
	wg.Wait()
}

func (s *KeyLockSuite) TestMapDrainsWhenIdle() {
	locks := newKeyLocks()
	release := locks.acquire("P1", "P2")
	s.Len(locks.locks, 2)
	release()
	s.Empty(locks.locks)
}

func (s *KeyLockSuite) TestDedupeSorted() {
	s.Equal([]string{"A", "B"}, dedupeSorted([]string{"B", "", "A", "B"}))
	s.Empty(dedupeSorted([]string{"", ""}))
}
