package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tyemirov/clinicgate/internal/metrics"
	"github.com/tyemirov/clinicgate/pkg/credentials"
	"go.uber.org/zap"
)

const (
	eventRequest         = "gateway.request"
	eventAuthExpired     = "gateway.auth_expired"
	eventReplay          = "gateway.replay"
	eventRefreshStarted  = "gateway.refresh.started"
	eventRefreshQueued   = "gateway.refresh.queued"
	eventRefreshSuccess  = "gateway.refresh.success"
	eventRefreshFailure  = "gateway.refresh.failure"
	eventStaleTokenRetry = "gateway.stale_token.replay"
)

// Response is a successful API answer.
type Response struct {
	Data       []byte
	Status     int
	StatusText string
	Headers    http.Header
}

// Decode unmarshals the JSON body into target. An empty body leaves target untouched.
func (response *Response) Decode(target any) error {
	if response == nil || len(bytes.TrimSpace(response.Data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(response.Data, target); err != nil {
		return fmt.Errorf("gateway.decode: %w", err)
	}
	return nil
}

// RequestOption customizes a single call.
type RequestOption func(settings *requestSettings)

type requestSettings struct {
	headers http.Header
	query   url.Values
}

// WithHeader sets a header on one request, overriding configured defaults.
func WithHeader(name string, value string) RequestOption {
	return func(settings *requestSettings) {
		settings.headers.Set(name, value)
	}
}

// WithQuery appends a query parameter to one request.
func WithQuery(name string, value string) RequestOption {
	return func(settings *requestSettings) {
		settings.query.Add(name, value)
	}
}

// Client sends requests to the practice API, attaching bearer credentials and
// recovering from expired access tokens through a single shared refresh.
type Client struct {
	baseURL      *url.URL
	httpClient   *http.Client
	headers      http.Header
	publicRoutes PublicRoutes
	refreshPath  string
	credentials  credentials.Store
	logger       *zap.Logger
	metrics      metrics.Recorder
	coordinator  *refreshCoordinator
}

type outgoingCall struct {
	method    string
	target    *url.URL
	routePath string
	payload   []byte
	headers   http.Header
	public    bool
	// external targets an origin other than the base URL; it never carries credentials.
	external  bool
	retried   bool
}

// New constructs a Client after validating the supplied configuration.
func New(configuration Config) (*Client, error) {
	if strings.TrimSpace(configuration.BaseURL) == "" {
		return nil, fmt.Errorf("gateway.new: %w", ErrMissingBaseURL)
	}
	baseURL, parseErr := url.Parse(strings.TrimSpace(configuration.BaseURL))
	if parseErr != nil || baseURL.Host == "" || (baseURL.Scheme != "http" && baseURL.Scheme != "https") {
		return nil, fmt.Errorf("gateway.new: %w: %q", ErrInvalidBaseURL, configuration.BaseURL)
	}
	if configuration.Timeout < 0 {
		return nil, fmt.Errorf("gateway.new: %w", ErrInvalidTimeout)
	}
	if configuration.Credentials == nil {
		return nil, fmt.Errorf("gateway.new: %w", ErrMissingCredentials)
	}

	timeout := configuration.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	logger := configuration.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	recorder := configuration.Metrics
	if recorder == nil {
		recorder = metrics.NopRecorder{}
	}
	publicRoutes := configuration.PublicRoutes
	if publicRoutes == nil {
		publicRoutes = DefaultPublicRoutes()
	}
	refreshPath := configuration.RefreshPath
	if strings.TrimSpace(refreshPath) == "" {
		refreshPath = DefaultRefreshPath
	}
	loginPath := configuration.LoginPath
	if strings.TrimSpace(loginPath) == "" {
		loginPath = DefaultLoginPath
	}

	headers := make(http.Header)
	headers.Set("Content-Type", "application/json")
	headers.Set("Accept", "application/json")
	for name, value := range configuration.Headers {
		headers.Set(name, value)
	}

	client := &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: configuration.Transport,
		},
		headers:      headers,
		publicRoutes: publicRoutes,
		refreshPath:  refreshPath,
		credentials:  configuration.Credentials,
		logger:       logger,
		metrics:      recorder,
	}
	client.coordinator = &refreshCoordinator{
		store:           configuration.Credentials,
		exchange:        client.exchangeRefreshToken,
		loginPath:       loginPath,
		onUnrecoverable: configuration.OnUnrecoverable,
		logger:          logger,
		metrics:         recorder,
	}
	return client, nil
}

// Credentials exposes the store the client reads tokens from.
func (client *Client) Credentials() credentials.Store {
	return client.credentials
}

// Get issues a GET request.
func (client *Client) Get(ctx context.Context, path string, options ...RequestOption) (*Response, error) {
	return client.Do(ctx, http.MethodGet, path, nil, options...)
}

// Delete issues a DELETE request.
func (client *Client) Delete(ctx context.Context, path string, options ...RequestOption) (*Response, error) {
	return client.Do(ctx, http.MethodDelete, path, nil, options...)
}

// Post issues a POST request with a JSON body.
func (client *Client) Post(ctx context.Context, path string, body any, options ...RequestOption) (*Response, error) {
	return client.Do(ctx, http.MethodPost, path, body, options...)
}

// Put issues a PUT request with a JSON body.
func (client *Client) Put(ctx context.Context, path string, body any, options ...RequestOption) (*Response, error) {
	return client.Do(ctx, http.MethodPut, path, body, options...)
}

// Patch issues a PATCH request with a JSON body.
func (client *Client) Patch(ctx context.Context, path string, body any, options ...RequestOption) (*Response, error) {
	return client.Do(ctx, http.MethodPatch, path, body, options...)
}

// Do issues a request. body may be nil, []byte, json.RawMessage, or any JSON-marshalable value.
// Failures are always *Error.
func (client *Client) Do(ctx context.Context, method string, path string, body any, options ...RequestOption) (*Response, error) {
	payload, encodeErr := encodeBody(body)
	if encodeErr != nil {
		return nil, newRequestError(encodeErr)
	}
	settings := requestSettings{headers: make(http.Header), query: make(url.Values)}
	for _, option := range options {
		option(&settings)
	}
	target, routePath, resolveErr := client.resolve(path, settings.query)
	if resolveErr != nil {
		return nil, newRequestError(resolveErr)
	}
	call := &outgoingCall{
		method:    strings.ToUpper(method),
		target:    target,
		routePath: routePath,
		payload:   payload,
		headers:   settings.headers,
		public:    client.publicRoutes.Match(method, routePath),
		external:  !client.sameOrigin(target),
	}
	client.metrics.Increment(eventRequest)
	return client.execute(ctx, call, client.bearerToken(ctx, call))
}

func (client *Client) bearerToken(ctx context.Context, call *outgoingCall) string {
	if call.public || call.external {
		return ""
	}
	accessToken, err := client.credentials.AccessToken(ctx)
	if err != nil {
		client.logger.Warn("credential store read failed",
			zap.String("code", "gateway.credentials.read_failed"),
			zap.Error(err))
		return ""
	}
	return accessToken
}

func (client *Client) execute(ctx context.Context, call *outgoingCall, accessToken string) (*Response, error) {
	response, sendErr := client.send(ctx, call, accessToken)
	if sendErr != nil {
		return nil, sendErr
	}
	if response.Status >= http.StatusOK && response.Status < http.StatusMultipleChoices {
		return response, nil
	}
	if response.Status != http.StatusUnauthorized || call.external {
		return nil, newStatusError(response)
	}
	if call.public {
		return nil, newStatusErrorOfKind(response, KindAuthUnrecoverable)
	}
	if call.retried {
		client.logger.Warn("replayed request rejected",
			zap.String("code", "gateway.replay.unauthorized"),
			zap.String("method", call.method),
			zap.String("path", call.routePath))
		return nil, newStatusErrorOfKind(response, KindAuthUnrecoverable)
	}

	client.metrics.Increment(eventAuthExpired)
	freshToken, refreshErr := client.coordinator.acquire(ctx, accessToken)
	if refreshErr != nil {
		return nil, refreshErr
	}
	call.retried = true
	client.metrics.Increment(eventReplay)
	return client.execute(ctx, call, freshToken)
}

func (client *Client) send(ctx context.Context, call *outgoingCall, accessToken string) (*Response, error) {
	var bodyReader io.Reader
	if call.payload != nil {
		bodyReader = bytes.NewReader(call.payload)
	}
	request, err := http.NewRequestWithContext(ctx, call.method, call.target.String(), bodyReader)
	if err != nil {
		return nil, newRequestError(err)
	}
	for name, values := range client.headers {
		request.Header[name] = append([]string(nil), values...)
	}
	for name, values := range call.headers {
		request.Header[name] = append([]string(nil), values...)
	}
	if accessToken != "" && !call.public && !call.external {
		request.Header.Set("Authorization", "Bearer "+accessToken)
	}

	startTime := time.Now()
	httpResponse, err := client.httpClient.Do(request)
	if err != nil {
		client.logger.Debug("gateway transport failure",
			zap.String("method", call.method),
			zap.String("path", call.routePath),
			zap.Error(err))
		return nil, newTransportError(err)
	}
	defer func() { _ = httpResponse.Body.Close() }()
	data, err := io.ReadAll(httpResponse.Body)
	if err != nil {
		return nil, newTransportError(err)
	}
	client.logger.Debug("gateway",
		zap.String("method", call.method),
		zap.String("path", call.routePath),
		zap.Int("status", httpResponse.StatusCode),
		zap.Bool("retried", call.retried),
		zap.Duration("elapsed", time.Since(startTime)),
	)
	return &Response{
		Data:       data,
		Status:     httpResponse.StatusCode,
		StatusText: statusText(httpResponse),
		Headers:    httpResponse.Header,
	}, nil
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// exchangeRefreshToken performs POST {refreshPath}. It bypasses the 401 handling in execute.
func (client *Client) exchangeRefreshToken(ctx context.Context, refreshToken string) (credentials.Pair, error) {
	payload, err := json.Marshal(refreshRequest{RefreshToken: refreshToken})
	if err != nil {
		return credentials.Pair{}, newRequestError(err)
	}
	target, routePath, err := client.resolve(client.refreshPath, nil)
	if err != nil {
		return credentials.Pair{}, newRequestError(err)
	}
	call := &outgoingCall{
		method:    http.MethodPost,
		target:    target,
		routePath: routePath,
		payload:   payload,
		headers:   make(http.Header),
		public:    true,
	}
	response, sendErr := client.send(ctx, call, "")
	if sendErr != nil {
		return credentials.Pair{}, sendErr
	}
	if response.Status < http.StatusOK || response.Status >= http.StatusMultipleChoices {
		return credentials.Pair{}, newStatusError(response)
	}
	var pair credentials.Pair
	if err := response.Decode(&pair); err != nil {
		return credentials.Pair{}, newRequestError(err)
	}
	if strings.TrimSpace(pair.AccessToken) == "" {
		return credentials.Pair{}, newRequestError(ErrEmptyAccessToken)
	}
	return pair, nil
}

func (client *Client) resolve(path string, query url.Values) (*url.URL, string, error) {
	reference, err := url.Parse(strings.TrimSpace(path))
	if err != nil {
		return nil, "", fmt.Errorf("gateway.resolve: %w", err)
	}
	var target url.URL
	if reference.IsAbs() {
		target = *reference
	} else {
		target = *client.baseURL
		target.Path = strings.TrimRight(client.baseURL.Path, "/") + "/" + strings.TrimLeft(reference.Path, "/")
		target.RawPath = ""
		target.RawQuery = reference.RawQuery
		target.Fragment = ""
	}
	if len(query) > 0 {
		merged := target.Query()
		for name, values := range query {
			for _, value := range values {
				merged.Add(name, value)
			}
		}
		target.RawQuery = merged.Encode()
	}
	return &target, normalizeRoutePath(reference.Path), nil
}

func (client *Client) sameOrigin(target *url.URL) bool {
	return strings.EqualFold(target.Scheme, client.baseURL.Scheme) &&
		strings.EqualFold(target.Host, client.baseURL.Host)
}

func encodeBody(body any) ([]byte, error) {
	switch typed := body.(type) {
	case nil:
		return nil, nil
	case []byte:
		return typed, nil
	case json.RawMessage:
		return typed, nil
	default:
		encoded, err := json.Marshal(typed)
		if err != nil {
			return nil, fmt.Errorf("gateway.encode: %w", err)
		}
		return encoded, nil
	}
}

func statusText(response *http.Response) string {
	text := strings.TrimSpace(strings.TrimPrefix(response.Status, strconv.Itoa(response.StatusCode)))
	if text == "" {
		return http.StatusText(response.StatusCode)
	}
	return text
}
