package resilience

import (
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

func TestTry_PrimarySucceeds(t *testing.T) {
	t.Parallel()
	g := NewFallbackGroup("ten", 10, BreakerConfig{MaxFailures: 3})
	g.Add("twenty", 20)

	got, name, err := Try(g, func(v int) (int, error) { return v * 2, nil })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 20 || name != "ten" {
		t.Errorf("Try = %d from %q, want 20 from ten", got, name)
	}
}

func TestTry_FailsOver(t *testing.T) {
	t.Parallel()
	g := NewFallbackGroup("ten", 10, BreakerConfig{MaxFailures: 3})
	g.Add("twenty", 20)
	g.Add("thirty", 30)

	var tried []int
	got, name, err := Try(g, func(v int) (string, error) {
		tried = append(tried, v)
		if v < 30 {
			return "", errTest
		}
		return "from-thirty", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "from-thirty" || name != "thirty" {
		t.Errorf("Try = %q from %q", got, name)
	}
	if len(tried) != 3 || tried[0] != 10 || tried[1] != 20 {
		t.Errorf("trial order = %v, want [10 20 30]", tried)
	}
}

func TestTry_AllFail(t *testing.T) {
	t.Parallel()
	g := NewFallbackGroup("ten", 10, BreakerConfig{MaxFailures: 3})
	g.Add("twenty", 20)

	last := errors.New("twenty broke")
	_, name, err := Try(g, func(v int) (string, error) {
		if v == 20 {
			return "", last
		}
		return "", errTest
	})
	if !errors.Is(err, ErrAllFailed) || !errors.Is(err, last) {
		t.Fatalf("err = %v, want ErrAllFailed wrapping the last error", err)
	}
	if name != "" {
		t.Errorf("name = %q, want empty", name)
	}
}

func TestTry_SkipsOpenMember(t *testing.T) {
	t.Parallel()
	clock := clockwork.NewFakeClock()
	g := NewFallbackGroup("primary", "primary", BreakerConfig{MaxFailures: 2, Cooldown: time.Minute, Clock: clock})
	g.Add("secondary", "secondary")

	fn := func(v string) (string, error) {
		if v == "primary" {
			return "", errTest
		}
		return v, nil
	}
	for range 2 {
		if _, _, err := Try(g, fn); err != nil {
			t.Fatalf("Try: %v", err)
		}
	}
	if s := g.Breakers()[0].State(); s != StateOpen {
		t.Fatalf("primary breaker = %v, want open", s)
	}

	var called []string
	_, name, err := Try(g, func(v string) (string, error) {
		called = append(called, v)
		return v, nil
	})
	if err != nil || name != "secondary" {
		t.Fatalf("Try = %q, %v; want secondary", name, err)
	}
	if len(called) != 1 {
		t.Errorf("called = %v, want only secondary", called)
	}

	// After the cooldown the primary gets a probe again.
	clock.Advance(time.Minute)
	if _, name, _ := Try(g, func(v string) (string, error) { return v, nil }); name != "primary" {
		t.Errorf("after cooldown served by %q, want primary", name)
	}
}

func TestFallbackGroup_NamesAndBreakers(t *testing.T) {
	t.Parallel()
	g := NewFallbackGroup("a", 1, BreakerConfig{Name: "ignored"})
	g.Add("b", 2)

	names := g.Names()
	if len(names) != 2 || names[0] != "a" || names[1] != "b" {
		t.Errorf("Names() = %v, want [a b]", names)
	}
	for i, b := range g.Breakers() {
		if b.Name() != names[i] {
			t.Errorf("breaker %d name = %q, want %q", i, b.Name(), names[i])
		}
	}
}
