package session

import (
	"reflect"
	"testing"
)

func TestSortIDsAscending(t *testing.T) {
	ids := []ID{5, 1, 3, 2, 4}
	sortIDs(ids)
	want := []ID{1, 2, 3, 4, 5}
	if !reflect.DeepEqual(ids, want) {
		t.Errorf("sortIDs = %v, want %v", ids, want)
	}
}

func TestSortIDsEmptyAndSingle(t *testing.T) {
	empty := []ID{}
	sortIDs(empty)
	if len(empty) != 0 {
		t.Errorf("sortIDs(empty) = %v, want empty", empty)
	}

	single := []ID{7}
	sortIDs(single)
	if !reflect.DeepEqual(single, []ID{7}) {
		t.Errorf("sortIDs(single) = %v, want [7]", single)
	}
}

func TestNewStoreStartsEmpty(t *testing.T) {
	st := New(0, 0, nil)
	if got := st.Len(); got != 0 {
		t.Errorf("Len() = %d, want 0", got)
	}
	if _, err := st.Get(ID(1)); err != ErrNotFound {
		t.Errorf("Get(unknown) err = %v, want ErrNotFound", err)
	}
	if err := st.Delete(ID(1)); err != ErrNotFound {
		t.Errorf("Delete(unknown) err = %v, want ErrNotFound", err)
	}
}
