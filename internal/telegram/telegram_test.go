package telegram

import (
	"errors"
	"fmt"
	"reflect"
	"testing"
	"time"
	"unsafe"

	"github.com/rs/zerolog"
	tele "gopkg.in/telebot.v4"

	"github.com/moonssword/tg-autoposting-bot/internal/domain"
)

func floodErr(retryAfter int) tele.FloodError {
	fe := tele.FloodError{RetryAfter: retryAfter}
	// telebot.v4 keeps the inner *Error unexported with no constructor, but
	// FloodError.Error() dereferences it, so populate it via reflection.
	f := reflect.ValueOf(&fe).Elem().FieldByName("err")
	reflect.NewAt(f.Type(), unsafe.Pointer(f.UnsafeAddr())).Elem().
		Set(reflect.ValueOf(&tele.Error{Code: 429, Description: "Too Many Requests"}))
	return fe
}

func TestMapErrorFlood(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		err  error
		want time.Duration
	}{
		{name: "flood value", err: floodErr(16), want: 16 * time.Second},
		{name: "flood pointer", err: func() error { e := floodErr(5); return &e }(), want: 5 * time.Second},
		{name: "wrapped flood", err: fmt.Errorf("send album: %w", floodErr(7)), want: 7 * time.Second},
		{name: "flood without hint", err: floodErr(0), want: defaultRetryAfter},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := mapError(tt.err)
			var rl *domain.RateLimitedError
			if !errors.As(got, &rl) {
				t.Fatalf("mapError(%v) = %v, want RateLimitedError", tt.err, got)
			}
			if rl.RetryAfter != tt.want {
				t.Fatalf("RetryAfter = %v, want %v", rl.RetryAfter, tt.want)
			}
		})
	}
}

func TestMapErrorPassthrough(t *testing.T) {
	t.Parallel()
	plain := errors.New("wrong file identifier")
	if got := mapError(plain); got != plain {
		t.Fatalf("mapError(%v) = %v, want unchanged", plain, got)
	}
	if got := mapError(nil); got != nil {
		t.Fatalf("mapError(nil) = %v", got)
	}
}

func TestParseMode(t *testing.T) {
	t.Parallel()
	if got := parseMode(domain.ModeMarkdown); got != tele.ModeMarkdown {
		t.Fatalf("parseMode(markdown) = %q", got)
	}
	if got := parseMode(domain.ModePlain); got != tele.ModeDefault {
		t.Fatalf("parseMode(plain) = %q", got)
	}
}

func TestNewRequiresToken(t *testing.T) {
	t.Parallel()
	if _, err := New(Config{Token: "  "}, zerolog.Nop()); err == nil {
		t.Fatal("empty token accepted")
	}
}
