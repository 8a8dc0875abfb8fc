package sliceutils

import (
	"reflect"
	"testing"
)

func TestRemoveDuplicates(t *testing.T) {
	checkOne := func(in []string, e []string) {
		c := RemoveDuplicates(in)
		if !reflect.DeepEqual(c, e) {
			t.Fatalf("unexpected result for RemoveDuplicates(%v), yielded %v instead of %v", in, c, e)
		}
	}

	checkOne(nil, nil)
	checkOne([]string{}, nil)
	checkOne([]string{"a"}, []string{"a"})
	checkOne([]string{"a", "a"}, []string{"a"})
	checkOne([]string{"a", "b", "a", "c", "b"}, []string{"a", "b", "c"})
}

func TestRemoveDuplicatesKeepsFirstOccurrenceOrder(t *testing.T) {
	in := []int{3, 1, 3, 2, 1, 4}
	out := RemoveDuplicates(in)
	if !reflect.DeepEqual(out, []int{3, 1, 2, 4}) {
		t.Fatalf("unexpected result: %v", out)
	}
}
