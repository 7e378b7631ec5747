package auth

import (
	"errors"
	"fmt"
	"maps"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/seek-ret/tests-rtl/pkg/stage"
)

// DefaultAuthStageID is the library stage custom-request inserts when the auth
// data does not name one.
const DefaultAuthStageID = "auth"

// Header sets a fixed set of headers on every request.
type Header struct {
	headers http.Header
}

// NewHeader creates a header handler. Every key of data is a header name, the
// value is formatted with fmt.Sprint.
func NewHeader(data Data) (Handler, error) {
	if len(data) == 0 {
		return nil, errors.New("at least one header is required")
	}
	h := make(http.Header, len(data))
	for _, name := range slices.Sorted(maps.Keys(data)) {
		switch v := data[name].(type) {
		case map[string]any, []any:
			return nil, fmt.Errorf("header %q: value must be a scalar, got %T", name, v)
		case nil:
			return nil, fmt.Errorf("header %q: value is empty", name)
		default:
			h.Set(name, fmt.Sprint(v))
		}
	}
	return &Header{headers: h}, nil
}

// Authorize implements RequestAuthorizer.
func (h *Header) Authorize(req *http.Request) error {
	for name, values := range h.headers {
		req.Header[name] = slices.Clone(values)
	}
	return nil
}

// Bearer sends "Authorization: Bearer <token>".
type Bearer struct {
	token string
}

// NewBearer creates a bearer handler from data.token.
func NewBearer(data Data) (Handler, error) {
	token, err := requireString(data, "token")
	if err != nil {
		return nil, err
	}
	return &Bearer{token: token}, nil
}

// Authorize implements RequestAuthorizer.
func (b *Bearer) Authorize(req *http.Request) error {
	req.Header.Set("Authorization", "Bearer "+b.token)
	return nil
}

// Basic sends HTTP basic credentials from data.username and data.password.
type Basic struct {
	username, password string
}

// NewBasic creates a basic auth handler.
func NewBasic(data Data) (Handler, error) {
	user, err := requireString(data, "username")
	if err != nil {
		return nil, err
	}
	pass, err := optionalString(data, "password")
	if err != nil {
		return nil, err
	}
	return &Basic{username: user, password: pass}, nil
}

// Authorize implements RequestAuthorizer.
func (b *Basic) Authorize(req *http.Request) error {
	req.SetBasicAuth(b.username, b.password)
	return nil
}

// CustomRequest runs a library stage, typically a login request, before the
// test body. The stage is expected to save the resulting credential.
type CustomRequest struct {
	stageID string
}

// NewCustomRequest creates a custom-request handler. data.auth_stage_id names
// the library stage and defaults to "auth".
func NewCustomRequest(data Data) (Handler, error) {
	id, err := optionalString(data, "auth_stage_id")
	if err != nil {
		return nil, err
	}
	if id == "" {
		id = DefaultAuthStageID
	}
	return &CustomRequest{stageID: id}, nil
}

// StageID returns the id of the inserted library stage.
func (c *CustomRequest) StageID() string { return c.stageID }

// PrepareTest implements TestPreparer by inserting a reference to the auth stage
// at the start of the stage list.
func (c *CustomRequest) PrepareTest(t *stage.Test, _ stage.Vars) error {
	t.InsertStage(0, stage.Stage{Type: stage.TypeRef, ID: c.stageID})
	return nil
}

// JWT signs a token from static claims and sends it with every request.
//
// Recognised data keys:
//
//	secret       HMAC key (HS256, HS384, HS512)
//	private_key  PEM encoded RSA or EC key (RS*, PS*, ES*)
//	algorithm    signing algorithm, HS256 or RS256 by default
//	claims       static claims
//	ttl          token lifetime such as "5m"; adds iat and exp on every request
//	header       request header, Authorization by default
//	prefix       value prefix, "Bearer " for the Authorization header
type JWT struct {
	method jwt.SigningMethod
	key    any
	claims jwt.MapClaims
	ttl    time.Duration
	header string
	prefix string
	now    func() time.Time

	// static is the pre-signed token when no ttl is configured.
	static string
}

// NewJWT creates a JWT handler.
func NewJWT(data Data) (Handler, error) {
	secret, err := optionalString(data, "secret")
	if err != nil {
		return nil, err
	}
	pemKey, err := optionalString(data, "private_key")
	if err != nil {
		return nil, err
	}
	if (secret == "") == (pemKey == "") {
		return nil, errors.New("exactly one of secret and private_key is required")
	}

	alg, err := optionalString(data, "algorithm")
	if err != nil {
		return nil, err
	}
	if alg == "" {
		alg = "HS256"
		if pemKey != "" {
			alg = "RS256"
		}
	}
	method := jwt.GetSigningMethod(alg)
	if method == nil {
		return nil, fmt.Errorf("unknown signing algorithm %q", alg)
	}

	j := &JWT{method: method, claims: jwt.MapClaims{}, now: time.Now}
	switch {
	case secret != "":
		if !strings.HasPrefix(alg, "HS") {
			return nil, fmt.Errorf("algorithm %s needs a private_key, not a secret", alg)
		}
		j.key = []byte(secret)
	case strings.HasPrefix(alg, "ES"):
		if j.key, err = jwt.ParseECPrivateKeyFromPEM([]byte(pemKey)); err != nil {
			return nil, fmt.Errorf("private_key: %w", err)
		}
	case strings.HasPrefix(alg, "RS"), strings.HasPrefix(alg, "PS"):
		if j.key, err = jwt.ParseRSAPrivateKeyFromPEM([]byte(pemKey)); err != nil {
			return nil, fmt.Errorf("private_key: %w", err)
		}
	default:
		return nil, fmt.Errorf("algorithm %s cannot be used with a private_key", alg)
	}
	if raw, ok := data["claims"]; ok && raw != nil {
		claims, ok := raw.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("claims must be a mapping, got %T", raw)
		}
		maps.Copy(j.claims, claims)
	}

	ttl, err := optionalString(data, "ttl")
	if err != nil {
		return nil, err
	}
	if ttl != "" {
		if j.ttl, err = time.ParseDuration(ttl); err != nil {
			return nil, fmt.Errorf("ttl: %w", err)
		}
		if j.ttl <= 0 {
			return nil, fmt.Errorf("ttl must be positive, got %s", ttl)
		}
	}

	if j.header, err = optionalString(data, "header"); err != nil {
		return nil, err
	}
	if j.header == "" {
		j.header = "Authorization"
	}
	if _, ok := data["prefix"]; ok {
		if j.prefix, err = optionalString(data, "prefix"); err != nil {
			return nil, err
		}
	} else if http.CanonicalHeaderKey(j.header) == "Authorization" {
		j.prefix = "Bearer "
	}

	if j.ttl == 0 {
		if j.static, err = j.sign(); err != nil {
			return nil, err
		}
	}
	return j, nil
}

// Token returns a signed token.
func (j *JWT) Token() (string, error) {
	if j.static != "" {
		return j.static, nil
	}
	return j.sign()
}

func (j *JWT) sign() (string, error) {
	claims := make(jwt.MapClaims, len(j.claims)+2)
	maps.Copy(claims, j.claims)
	if j.ttl > 0 {
		now := j.now()
		claims["iat"] = now.Unix()
		claims["exp"] = now.Add(j.ttl).Unix()
	}
	signed, err := jwt.NewWithClaims(j.method, claims).SignedString(j.key)
	if err != nil {
		return "", fmt.Errorf("signing JWT: %w", err)
	}
	return signed, nil
}

// Authorize implements RequestAuthorizer.
func (j *JWT) Authorize(req *http.Request) error {
	token, err := j.Token()
	if err != nil {
		return err
	}
	req.Header.Set(j.header, j.prefix+token)
	return nil
}

func requireString(data Data, key string) (string, error) {
	s, err := optionalString(data, key)
	if err != nil {
		return "", err
	}
	if s == "" {
		return "", fmt.Errorf("%s is required", key)
	}
	return s, nil
}

func optionalString(data Data, key string) (string, error) {
	raw, ok := data[key]
	if !ok || raw == nil {
		return "", nil
	}
	switch v := raw.(type) {
	case string:
		return v, nil
	case map[string]any, []any:
		return "", fmt.Errorf("%s must be a scalar, got %T", key, v)
	default:
		return fmt.Sprint(v), nil
	}
}
