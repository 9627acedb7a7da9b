package builder

import (
	"reflect"
	"sync"
	"testing"
)

func assertEq(a, b interface{}, t *testing.T) {
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("Expected %#v and %#v to be equal", a, b)
	}
}

func TestOnceLatchFirstWinnerWins(t *testing.T) {
	l := &onceLatch{}

	won := l.fire(outcome{msgInternal: "first"})
	if !won {
		t.Fatal("expected the first firer to win the race")
	}

	won = l.fire(outcome{msgInternal: "second"})
	if won {
		t.Fatal("expected the second firer to lose the race")
	}

	assertEq(l.result, outcome{msgInternal: "first"}, t)
}

func TestOnceLatchConcurrent(t *testing.T) {
	l := &onceLatch{}

	var wg sync.WaitGroup
	wins := make(chan int, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if l.fire(outcome{msgInternal: "racer"}) {
				wins <- i
			}
		}(i)
	}
	wg.Wait()
	close(wins)

	n := 0
	for range wins {
		n++
	}
	assertEq(n, 1, t)
}
