package require

import (
	"errors"
	"testing"
)

type fakeT struct {
	failed bool
	msg    string
}

func (f *fakeT) Helper() {}
func (f *fakeT) Fatal(args ...interface{}) {
	f.failed = true
	if len(args) > 0 {
		if s, ok := args[0].(string); ok {
			f.msg = s
		}
	}
}

func TestEqualPassesAndFails(t *testing.T) {
	ft := &fakeT{}
	Equal(ft, 1, 1)
	if ft.failed {
		t.Fatalf("expected Equal(1, 1) to pass")
	}

	ft = &fakeT{}
	Equal(ft, 1, 2)
	if !ft.failed {
		t.Fatalf("expected Equal(1, 2) to fail")
	}
}

func TestNoErrorAndError(t *testing.T) {
	ft := &fakeT{}
	NoError(ft, nil)
	if ft.failed {
		t.Fatalf("expected NoError(nil) to pass")
	}

	ft = &fakeT{}
	NoError(ft, errors.New("boom"))
	if !ft.failed {
		t.Fatalf("expected NoError(err) to fail")
	}

	ft = &fakeT{}
	Error(ft, errors.New("boom"))
	if ft.failed {
		t.Fatalf("expected Error(err) to pass")
	}

	ft = &fakeT{}
	Error(ft, nil)
	if !ft.failed {
		t.Fatalf("expected Error(nil) to fail")
	}
}

func TestNilAndNotNil(t *testing.T) {
	var p *int
	ft := &fakeT{}
	Nil(ft, p)
	if ft.failed {
		t.Fatalf("expected Nil(typed-nil pointer) to pass")
	}

	v := 1
	ft = &fakeT{}
	NotNil(ft, &v)
	if ft.failed {
		t.Fatalf("expected NotNil(&v) to pass")
	}
}

func TestErrorIs(t *testing.T) {
	sentinel := errors.New("sentinel")
	wrapped := errors.New("context: " + sentinel.Error())

	ft := &fakeT{}
	ErrorIs(ft, sentinel, sentinel)
	if ft.failed {
		t.Fatalf("expected ErrorIs(sentinel, sentinel) to pass")
	}

	ft = &fakeT{}
	ErrorIs(ft, wrapped, sentinel)
	if !ft.failed {
		t.Fatalf("expected ErrorIs(wrapped-but-not-Is, sentinel) to fail")
	}
}
