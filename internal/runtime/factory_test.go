package runtime

import "testing"

func TestNew_FakeBackend(t *testing.T) {
	driver, err := New("fake")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := driver.(*FakeDriver); !ok {
		t.Fatalf("expected *FakeDriver, got %T", driver)
	}
}

func TestNew_UnsupportedBackend(t *testing.T) {
	if _, err := New("kubernetes"); err == nil {
		t.Fatal("expected an error for an unsupported backend")
	}
}
