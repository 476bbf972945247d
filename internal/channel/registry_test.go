package channel

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/kursadbilgin/notify-dispatch/internal/domain"
)

func defaultSource() Source {
	return Source{
		IDs:        "10,20,30,40,50,60,70",
		Names:      "email,sms,dingDingRobot,weChatServiceAccount,push,feiShuRobot,enterpriseWeChatRobot",
		RawContent: "20,40",
		TTLs:       "10:300000,20:60000,30:120000,40:60000,50:180000,60:120000,70:120000",
	}
}

func TestParseDefaultTable(t *testing.T) {
	t.Parallel()

	reg, err := Parse(defaultSource())
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	channels := reg.ChannelsOf()
	if len(channels) != 7 {
		t.Fatalf("ChannelsOf() len = %d, want 7", len(channels))
	}
	if channels[0] != domain.ChannelEmail || channels[6] != domain.ChannelEnterpriseWeChatRobot {
		t.Fatalf("ChannelsOf() = %v, want ascending order", channels)
	}

	if got := reg.NameOf(domain.ChannelSMS); got != "sms" {
		t.Fatalf("NameOf(sms) = %q", got)
	}
	if !reg.NeedsRawContent(domain.ChannelSMS) || !reg.NeedsRawContent(domain.ChannelWeChatServiceAccount) {
		t.Fatal("sms and weChatServiceAccount should need raw content")
	}
	if reg.NeedsRawContent(domain.ChannelEmail) {
		t.Fatal("email should allow placeholder substitution")
	}
	if got := reg.TTLOf(domain.ChannelSMS); got != time.Minute {
		t.Fatalf("TTLOf(sms) = %v, want 1m", got)
	}
}

func TestRegistryUnknownChannel(t *testing.T) {
	t.Parallel()

	reg, err := Parse(defaultSource())
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	unknown := domain.Channel(99)
	if reg.Contains(unknown) {
		t.Fatal("Contains(99) = true")
	}
	if got := reg.NameOf(unknown); got != "99" {
		t.Fatalf("NameOf(99) = %q, want 99", got)
	}
	if reg.NeedsRawContent(unknown) {
		t.Fatal("NeedsRawContent(99) = true")
	}
	if got := reg.TTLOf(unknown); got != 0 {
		t.Fatalf("TTLOf(99) = %v, want 0", got)
	}
}

func TestParseRejectsInconsistentTables(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*Source)
	}{
		{name: "no ids", mutate: func(s *Source) { s.IDs = ""; s.Names = "" }},
		{name: "name count mismatch", mutate: func(s *Source) { s.Names = "email,sms" }},
		{name: "bad id", mutate: func(s *Source) { s.IDs = "10,x,30,40,50,60,70" }},
		{name: "raw channel unregistered", mutate: func(s *Source) { s.RawContent = "20,90" }},
		{name: "ttl for unregistered channel", mutate: func(s *Source) { s.TTLs += ",90:1000" }},
		{name: "missing ttl", mutate: func(s *Source) { s.TTLs = "10:300000" }},
		{name: "malformed ttl entry", mutate: func(s *Source) { s.TTLs = "10-300000" }},
		{name: "zero ttl", mutate: func(s *Source) { s.TTLs = "10:0" }},
		{name: "duplicate id", mutate: func(s *Source) { s.IDs = "10,10"; s.Names = "a,b"; s.RawContent = ""; s.TTLs = "10:1000" }},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			src := defaultSource()
			tt.mutate(&src)

			if _, err := Parse(src); !errors.Is(err, domain.ErrValidation) {
				t.Fatalf("Parse() error = %v, want ErrValidation", err)
			}
		})
	}
}

func TestRegistryConcurrentReads(t *testing.T) {
	t.Parallel()

	reg, err := Parse(defaultSource())
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for _, ch := range reg.ChannelsOf() {
				_ = reg.NameOf(ch)
				_ = reg.TTLOf(ch)
				_ = reg.NeedsRawContent(ch)
			}
		}()
	}
	wg.Wait()
}

func TestLoadFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "channels.yaml")
	content := []byte(`channels:
  - id: 20
    name: sms
    rawContent: true
    ttl: 1m
  - id: 50
    name: push
    ttl: 3m
`)
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	reg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}

	if !reg.NeedsRawContent(domain.ChannelSMS) {
		t.Fatal("sms should need raw content")
	}
	if got := reg.TTLOf(domain.ChannelPush); got != 3*time.Minute {
		t.Fatalf("TTLOf(push) = %v, want 3m", got)
	}
	if reg.Contains(domain.ChannelEmail) {
		t.Fatal("email should not be registered")
	}
}

func TestLoadFileInvalidTTL(t *testing.T) {
	t.Parallel()

	_, err := parseYAML([]byte("channels:\n  - id: 20\n    name: sms\n    ttl: soon\n"))
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("parseYAML() error = %v, want ErrValidation", err)
	}
}
