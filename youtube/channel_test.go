package youtube

import (
	"errors"
	"testing"
	"time"
)

func TestParseReference(t *testing.T) {
	tests := []struct {
		input    string
		wantKind ReferenceKind
		want     string
	}{
		{testChannelID, KindCanonicalID, testChannelID},
		{"@foo", KindHandle, "foo"},
		{"foo.bar", KindHandle, "foo.bar"},
		{"handle_foo", KindHandle, "foo"},
		{"custom_legacyname", KindCustomURL, "legacyname"},
		{"https://www.youtube.com/@foo", KindHandle, "foo"},
		{"https://m.youtube.com/@foo/videos", KindHandle, "foo"},
		{"youtube.com/channel/" + testChannelID, KindCanonicalID, testChannelID},
		{"https://www.youtube.com/c/LegacyName", KindCustomURL, "LegacyName"},
		{"https://www.youtube.com/user/someuser", KindCustomURL, "someuser"},
		{"https://www.youtube.com/vanity", KindCustomURL, "vanity"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			ref, err := ParseReference(tt.input)
			if err != nil {
				t.Fatalf("ParseReference(%q) error = %v", tt.input, err)
			}
			if ref.Kind != tt.wantKind || ref.Value != tt.want {
				t.Errorf("ParseReference(%q) = %+v, want %s %q", tt.input, ref, tt.wantKind, tt.want)
			}
		})
	}
}

func TestParseReferenceInvalid(t *testing.T) {
	inputs := []string{
		"",
		"   ",
		"@x",
		"https://example.com/@foo",
		"https://www.youtube.com/watch?v=dQw4w9WgXcQ",
		"https://www.youtube.com/channel/UCshort",
		"has spaces in it",
	}
	for _, in := range inputs {
		if _, err := ParseReference(in); !errors.Is(err, ErrInvalidReference) {
			t.Errorf("ParseReference(%q) error = %v, want ErrInvalidReference", in, err)
		}
	}
}

func TestTempIDRoundTrip(t *testing.T) {
	tests := []struct {
		ref  ChannelReference
		want string
	}{
		{ChannelReference{Kind: KindHandle, Value: "foo"}, "handle_foo"},
		{ChannelReference{Kind: KindHandle, Value: "Foo"}, "handle_foo"},
		{ChannelReference{Kind: KindCustomURL, Value: "Legacy"}, "custom_legacy"},
		{ChannelReference{Kind: KindCanonicalID, Value: testChannelID}, testChannelID},
	}
	for _, tt := range tests {
		id := tt.ref.TempID()
		if id != tt.want {
			t.Errorf("TempID(%+v) = %q, want %q", tt.ref, id, tt.want)
		}
		if tt.ref.Kind == KindCanonicalID {
			if IsTempID(id) {
				t.Errorf("IsTempID(%q) = true for a canonical id", id)
			}
			continue
		}
		back, ok := ParseTempID(id)
		if !ok || back.Kind != tt.ref.Kind || back.TempID() != id {
			t.Errorf("ParseTempID(%q) = %+v, %v", id, back, ok)
		}
	}
}

func TestIsCanonicalID(t *testing.T) {
	if !IsCanonicalID(testChannelID) {
		t.Errorf("IsCanonicalID(%q) = false", testChannelID)
	}
	for _, id := range []string{"", "handle_foo", "UCabc123", testChannelID + "x", "UU" + testChannelID[2:]} {
		if IsCanonicalID(id) {
			t.Errorf("IsCanonicalID(%q) = true", id)
		}
	}
}

func TestPlaceholder(t *testing.T) {
	now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	p := ChannelReference{Kind: KindHandle, Value: "foo"}.Placeholder(now)
	if p.CanonicalID != "handle_foo" || p.Title != "@foo" || !p.IsPlaceholder() {
		t.Errorf("Placeholder() = %+v", p)
	}

	hinted := ChannelReference{Kind: KindHandle, Value: "foo", DisplayHint: "Foo Channel"}.Placeholder(now)
	if hinted.Title != "Foo Channel" {
		t.Errorf("Placeholder() title = %q, want display hint", hinted.Title)
	}
}

func TestPagePath(t *testing.T) {
	tests := []struct {
		ref  ChannelReference
		want string
	}{
		{ChannelReference{Kind: KindHandle, Value: "foo"}, "/@foo"},
		{ChannelReference{Kind: KindCustomURL, Value: "bar"}, "/c/bar"},
		{ChannelReference{Kind: KindCanonicalID, Value: testChannelID}, "/channel/" + testChannelID},
	}
	for _, tt := range tests {
		if got := tt.ref.PagePath(); got != tt.want {
			t.Errorf("PagePath(%+v) = %q, want %q", tt.ref, got, tt.want)
		}
	}
}

func TestErrorClassification(t *testing.T) {
	wrapped := &AdapterError{Adapter: ClassAPI, Op: "resolve", Target: "@foo", Err: ErrChannelNotFound}
	if !IsNotFound(wrapped) || IsTransient(wrapped) {
		t.Error("wrapped not-found misclassified")
	}
	if !IsTransient(errors.New("connection reset")) {
		t.Error("plain errors should be transient")
	}
	if IsTransient(ErrQuotaExhausted) || !IsQuotaExhausted(ErrQuotaExhausted) {
		t.Error("quota exhaustion misclassified")
	}
	if IsTransient(nil) {
		t.Error("nil is not transient")
	}
	if wrapped.Error() != "api resolve @foo: youtube: channel not found" {
		t.Errorf("Error() = %q", wrapped.Error())
	}
}
