package auth

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"

	"golang.org/x/crypto/bcrypt"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/drowseguard/drowseguard/internal/config"
)

// queryParam carries the key on WebSocket upgrades, where browsers cannot
// set custom headers.
const queryParam = "api_key"

// Verifier checks presented API keys.
type Verifier struct {
	mode   string
	header string
	key    string
	hash   []byte
}

// New builds a Verifier from the auth config, resolving secrets from the
// environment. A configured hash takes precedence over a plaintext key.
func New(cfg config.AuthConfig) *Verifier {
	v := &Verifier{mode: cfg.Mode, header: cfg.EffectiveHeader()}
	if h := cfg.KeyHash(); h != "" {
		v.hash = []byte(h)
	} else {
		v.key = cfg.Key()
	}
	return v
}

// HashKey returns the bcrypt hash of key for use with key_hash_env.
func HashKey(key string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("auth: empty key")
	}
	h, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("auth: hash key: %w", err)
	}
	return string(h), nil
}

// Enabled reports whether requests must present a key.
func (v *Verifier) Enabled() bool {
	return v.mode == "apikey" && (v.key != "" || len(v.hash) > 0)
}

// Header returns the lowercase header / metadata key carrying the API key.
func (v *Verifier) Header() string { return v.header }

// Check reports whether presented is the expected key.
func (v *Verifier) Check(presented string) bool {
	if !v.Enabled() {
		return true
	}
	if presented == "" {
		return false
	}
	if len(v.hash) > 0 {
		return bcrypt.CompareHashAndPassword(v.hash, []byte(presented)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(presented), []byte(v.key)) == 1
}

// UnaryInterceptor returns a gRPC interceptor enforcing the key on every
// unary call. A missing or incorrect key returns codes.Unauthenticated.
func (v *Verifier) UnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		if err := v.authorize(ctx); err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

// StreamInterceptor is the streaming counterpart of UnaryInterceptor.
func (v *Verifier) StreamInterceptor() grpc.StreamServerInterceptor {
	return func(
		srv any,
		ss grpc.ServerStream,
		info *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) error {
		if err := v.authorize(ss.Context()); err != nil {
			return err
		}
		return handler(srv, ss)
	}
}

func (v *Verifier) authorize(ctx context.Context) error {
	if !v.Enabled() {
		return nil
	}
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return status.Error(codes.Unauthenticated, "missing metadata")
	}
	vals := md.Get(v.header)
	if len(vals) == 0 || !v.Check(vals[0]) {
		return status.Error(codes.Unauthenticated, "invalid api key")
	}
	return nil
}

// Middleware rejects HTTP requests without a valid key with 401. Paths in
// exempt are always allowed.
func (v *Verifier) Middleware(next http.Handler, exempt ...string) http.Handler {
	skip := make(map[string]bool, len(exempt))
	for _, p := range exempt {
		skip[p] = true
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !v.Enabled() || skip[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}
		presented := r.Header.Get(v.header)
		if presented == "" && r.Header.Get("Upgrade") != "" {
			presented = r.URL.Query().Get(queryParam)
		}
		if !v.Check(presented) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "invalid api key"})
			return
		}
		next.ServeHTTP(w, r)
	})
}
