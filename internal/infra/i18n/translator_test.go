//go:build !integration

package i18n

import (
	"strings"
	"testing"

	"github.com/cleanHouse123/clenHouseWeb-sub000/internal/domain/model"
)

func TestTranslator(t *testing.T) {
	contentBytes := []byte("greeting: Привет\nwelcome_user: Привет, %s")
	translator, err := newTranslatorFromBytes(contentBytes)
	if err != nil {
		t.Fatalf("newTranslatorFromBytes failed: %v", err)
	}

	t.Run("should translate a simple key", func(t *testing.T) {
		if got, want := translator.T("greeting"), "Привет"; got != want {
			t.Errorf("wanted '%s', got '%s'", want, got)
		}
	})

	t.Run("should return key if not found", func(t *testing.T) {
		if got, want := translator.T("nonexistent_key"), "nonexistent_key"; got != want {
			t.Errorf("wanted '%s', got '%s'", want, got)
		}
	})

	t.Run("should format arguments correctly", func(t *testing.T) {
		if got, want := translator.T("welcome_user", "Иван"), "Привет, Иван"; got != want {
			t.Errorf("wanted '%s', got '%s'", want, got)
		}
	})
}

func TestBundle(t *testing.T) {
	b, err := NewBundle(LocalesFS)
	if err != nil {
		t.Fatalf("NewBundle failed: %v", err)
	}

	if got := b.For("en-US,en;q=0.9").Lang(); got != "en" {
		t.Errorf("expected en for an English Accept-Language, got %s", got)
	}
	if got := b.For("de").Lang(); got != DefaultLang {
		t.Errorf("expected fallback to %s, got %s", DefaultLang, got)
	}
	if got := b.For("").Lang(); got != DefaultLang {
		t.Errorf("expected fallback to %s for empty tag, got %s", DefaultLang, got)
	}

	if _, err := NewBundle(LocalesFS, "fr"); err == nil {
		t.Error("expected an error for a missing locale")
	}
}

func TestOutcomeMessage(t *testing.T) {
	b, err := NewBundle(LocalesFS)
	if err != nil {
		t.Fatalf("NewBundle failed: %v", err)
	}
	en := b.For("en")

	paid := model.Outcome{Kind: model.OutcomeSuccess, Reason: model.ReasonPaid, SubjectKind: model.SubjectOrder, Amount: 123456}
	if got := OutcomeMessage(en, paid); !strings.Contains(got, "1234.56") || !strings.Contains(got, "order") {
		t.Errorf("unexpected success message %q", got)
	}
	if got := OutcomeTitle(en, paid); got != "Payment successful" {
		t.Errorf("unexpected title %q", got)
	}

	timeout := model.Outcome{Kind: model.OutcomeFailure, Reason: model.ReasonTimeout, SubjectKind: model.SubjectSubscription}
	if got := OutcomeMessage(en, timeout); !strings.Contains(got, "could not confirm") {
		t.Errorf("unexpected timeout message %q", got)
	}
	failed := model.Outcome{Kind: model.OutcomeFailure, Reason: model.ReasonFailed, SubjectKind: model.SubjectSubscription}
	if OutcomeTitle(en, failed) != OutcomeTitle(en, timeout) {
		t.Error("timeout and explicit failure should share the user-visible title")
	}

	refunded := model.Outcome{Kind: model.OutcomeRefunded, Reason: model.ReasonRefunded, SubjectKind: model.SubjectOrder}
	if got := OutcomeTitle(en, refunded); got != "Payment refunded" {
		t.Errorf("unexpected refunded title %q", got)
	}
}

func TestFormatMoney(t *testing.T) {
	cases := map[int64]string{0: "0.00", 5: "0.05", 150000: "1500.00", -250: "-2.50"}
	for in, want := range cases {
		if got := FormatMoney(in); got != want {
			t.Errorf("FormatMoney(%d) = %s, want %s", in, got, want)
		}
	}
}
