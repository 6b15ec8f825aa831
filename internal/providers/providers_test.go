package providers

import (
	"context"
	"testing"

	"github.com/mprlab/authbridge/internal/authkit"
	"github.com/mprlab/authbridge/internal/directory"
	"github.com/mprlab/authbridge/internal/providers/dbcred"
	"github.com/mprlab/authbridge/internal/providers/localjwt"
	"github.com/mprlab/authbridge/internal/providers/sessionsvc"
	"github.com/mprlab/authbridge/internal/providers/staticcred"
)

func TestNewBuildsConfiguredKind(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	cases := []struct {
		name   string
		config Config
		want   authkit.Kind
	}{
		{
			name: "static",
			config: Config{
				Kind:   authkit.KindStaticCred,
				Static: staticcred.Options{Users: []staticcred.Credential{{Username: "admin", Password: "pw"}}},
			},
			want: authkit.KindStaticCred,
		},
		{
			name: "jwt",
			config: Config{
				Kind: authkit.KindLocalJWT,
				JWT: localjwt.Options{
					SigningKey: []byte("key"),
					Issuer:     "test",
					Directory:  directory.NewMemoryDirectory(),
				},
			},
			want: authkit.KindLocalJWT,
		},
		{
			name: "database",
			config: Config{
				Kind:     authkit.KindDatabase,
				Database: dbcred.Options{DatabaseURL: "sqlite://:memory:"},
			},
			want: authkit.KindDatabase,
		},
		{
			name: "session",
			config: Config{
				Kind: authkit.KindSessionService,
				Session: sessionsvc.Options{
					KV:        sessionsvc.NewMemoryKV(nil),
					Directory: directory.NewMemoryDirectory(),
				},
			},
			want: authkit.KindSessionService,
		},
	}
	for _, testCase := range cases {
		t.Run(testCase.name, func(t *testing.T) {
			provider, err := New(ctx, testCase.config)
			if err != nil {
				t.Fatalf("new: %v", err)
			}
			if provider.Kind() != testCase.want {
				t.Fatalf("kind = %q, want %q", provider.Kind(), testCase.want)
			}
		})
	}
}

func TestNewUnknownKindFailsFast(t *testing.T) {
	t.Parallel()
	if _, err := New(context.Background(), Config{Kind: authkit.Kind("carrier-pigeon")}); err == nil {
		t.Fatalf("unknown kind must fail construction")
	}
}

func TestDetectPreferenceOrder(t *testing.T) {
	t.Parallel()

	// Both hosted and static are configured; hosted wins by preference.
	config := Config{}
	config.Hosted.BaseURL = "https://auth.example.com"
	config.Static.Users = []staticcred.Credential{{Username: "admin", Password: "pw"}}

	kind, err := Detect(config)
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if kind != authkit.KindHosted {
		t.Fatalf("detect = %q, want hosted", kind)
	}
}

func TestDetectFallsThroughToStatic(t *testing.T) {
	t.Parallel()
	config := Config{}
	config.Static.Users = []staticcred.Credential{{Username: "admin", Password: "pw"}}

	kind, err := Detect(config)
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if kind != authkit.KindStaticCred {
		t.Fatalf("detect = %q, want static", kind)
	}
}

func TestDetectNothingConfigured(t *testing.T) {
	t.Parallel()
	if _, err := Detect(Config{}); err == nil {
		t.Fatalf("empty configuration must not detect a kind")
	}
}
