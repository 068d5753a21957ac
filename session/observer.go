// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/hashicorp/go-hclog"
	"github.com/jonboulle/clockwork"

	"github.com/hashicorp/cap-session/cognito"
	"github.com/hashicorp/cap-session/sdk/id"
	"github.com/hashicorp/cap-session/store"
)

// Observer owns a session's tokens.  It verifies, persists and refreshes them
// and notifies subscribers when the session's validity changes.
//
// Network and verification failures never escape an Observer: operations
// report them as false and log the detail.
type Observer struct {
	config   *cognito.Config
	store    store.Store
	client   *cognito.Client
	verifier *cognito.Verifier
	logger   hclog.Logger
	clock    clockwork.Clock
	metrics  *metrics

	scheduler *scheduler

	// ctx is canceled by Done and bounds all background work.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// refreshMu serializes refresh grants.
	refreshMu sync.Mutex

	mu                  sync.Mutex
	state               State
	tokens              cognito.Tokens
	claims              cognito.Claims
	isValid             bool
	previousAccessToken cognito.AccessToken
	subscribers         []*subscriber
	cancelOnChange      func()
	closed              bool
	doneOnce            sync.Once
}

// New creates an Observer for the config which persists tokens in st.  Call
// Init to start the session and Done to release it.
// Supported options:
//   - WithLogger
//   - WithClock
//   - WithAttemptBudget
//   - WithMinInterval
//   - WithMaxInterval
//   - WithMaxRetryInterval
//   - WithExpirySkew
//   - WithRegisterer
func New(c *cognito.Config, st store.Store, opt ...Option) (*Observer, error) {
	const op = "session.New"
	switch {
	case c == nil:
		return nil, fmt.Errorf("%s: config is nil: %w", op, ErrNilParameter)
	case st == nil:
		return nil, fmt.Errorf("%s: store is nil: %w", op, ErrNilParameter)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	opts := getObserverOpts(opt...)

	client, err := cognito.NewClient(c, cognito.WithLogger(opts.withLogger.Named("client")))
	if err != nil {
		return nil, fmt.Errorf("%s: unable to create client: %w", op, err)
	}
	m, err := newMetrics(opts.withRegisterer)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	verifier, err := cognito.NewVerifier(ctx, c,
		cognito.WithLogger(opts.withLogger.Named("verifier")),
		cognito.WithClock(opts.withClock),
	)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%s: unable to create verifier: %w", op, err)
	}

	o := &Observer{
		config:   c,
		store:    st,
		client:   client,
		verifier: verifier,
		logger:   opts.withLogger,
		clock:    opts.withClock,
		metrics:  m,
		ctx:      ctx,
		cancel:   cancel,
		state:    StateEmpty,
		claims:   cognito.EmptyClaims(),
	}
	o.scheduler = newScheduler(o, opts)
	return o, nil
}

// Config returns the Observer's config.
func (o *Observer) Config() *cognito.Config {
	return o.config
}

// Init starts the session.  Stored tokens are loaded and their id token
// verified; valid tokens are persisted and subscribers notified, otherwise a
// refresh is attempted in the background.  A non-empty code is exchanged for
// tokens in the background, concurrently with the stored tokens' check.  Init
// then starts the refresh scheduler and returns whether the session is valid.
// The result of the background work is reported to subscribers.
func (o *Observer) Init(ctx context.Context, code string) bool {
	o.watchStore()

	if o.LoadLocalTokens() {
		if ok, claims := o.VerifyToken(ctx, o.IdToken(), cognito.TokenUseId); ok {
			o.commit(nil, claims)
			o.logger.Debug("stored tokens are valid")
			o.SaveTokens()
			o.notify()
		} else {
			o.setState(StateExpiredPendingRefresh)
			o.logger.Debug("stored tokens are not valid, refreshing")
			o.goBackground(func(ctx context.Context) {
				_ = o.RefreshTokens(ctx)
			})
		}
	}
	if code != "" {
		o.goBackground(func(ctx context.Context) {
			_ = o.FetchCognitoTokens(ctx, code)
		})
	}

	o.scheduler.start(o.ctx)
	return o.IsActive()
}

// FetchCognitoTokens exchanges the authorization code for tokens.  When the
// returned id token verifies, the tokens are committed, persisted and
// subscribers notified.  Otherwise the held tokens are left untouched.
func (o *Observer) FetchCognitoTokens(ctx context.Context, code string) bool {
	tks, err := o.client.ExchangeCode(ctx, code)
	if err != nil {
		o.logger.Error("unable to exchange code", "error", err)
		return false
	}
	ok, claims := o.VerifyToken(ctx, string(tks.IdToken), cognito.TokenUseId)
	if !ok {
		o.logger.Error("exchanged id token is not valid")
		return false
	}
	o.commit(tks, claims)
	o.SaveTokens()
	o.notify()
	o.scheduler.start(o.ctx)
	return true
}

// RefreshTokens uses the refresh token to obtain new tokens.  Without a
// refresh token the session is cleared.  A failed grant, or new tokens that
// don't verify, leave the held tokens untouched so the refresh can be
// retried.
func (o *Observer) RefreshTokens(ctx context.Context) bool {
	o.refreshMu.Lock()
	defer o.refreshMu.Unlock()

	o.mu.Lock()
	rt := o.tokens.RefreshToken
	prev := o.state
	if rt != "" {
		o.state = StateRefreshing
	}
	o.mu.Unlock()

	if rt == "" {
		o.logger.Debug("no refresh token, clearing session")
		o.metrics.refreshed(refreshNoRefreshToken)
		o.ClearTokens()
		return false
	}

	fail := func(result string) bool {
		o.mu.Lock()
		if o.state == StateRefreshing {
			o.state = prev
		}
		o.mu.Unlock()
		o.metrics.refreshed(result)
		return false
	}

	tks, err := o.client.Refresh(ctx, rt)
	if err != nil {
		o.logger.Error("unable to refresh tokens", "error", err)
		return fail(refreshFailure)
	}
	ok, claims := o.VerifyToken(ctx, string(tks.IdToken), cognito.TokenUseId)
	if !ok {
		o.logger.Error("refreshed id token is not valid")
		return fail(refreshInvalid)
	}

	if !o.commitIf(rt, tks, claims) {
		// cleared or replaced while the grant was in flight
		o.logger.Debug("session changed during refresh, discarding tokens")
		o.metrics.refreshed(refreshFailure)
		return false
	}
	o.SaveTokens()
	o.notify()
	o.metrics.refreshed(refreshSuccess)
	return true
}

// VerifyToken verifies the token for the use.  Any failure returns false and
// claims with an exp of 0.
func (o *Observer) VerifyToken(ctx context.Context, token string, use cognito.TokenUse) (bool, cognito.Claims) {
	claims, err := o.verifier.Verify(ctx, token, use)
	if err != nil {
		o.logger.Debug("token verification failed", "use", use, "error", err)
		return false, cognito.EmptyClaims()
	}
	return true, claims
}

// ClearTokens wipes the held and persisted tokens.  The session becomes
// invalid, and subscribers are notified when it was valid.
func (o *Observer) ClearTokens() {
	wasValid := o.clearLocal()
	if err := o.store.Clear(o.ctx); err != nil {
		o.logger.Error("unable to clear stored tokens", "error", err)
	}
	if wasValid {
		o.notify()
	}
}

// clearLocal wipes the held tokens and returns whether the session was valid.
func (o *Observer) clearLocal() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	wasValid := o.isValid
	o.tokens = cognito.Tokens{}
	o.claims = cognito.EmptyClaims()
	o.isValid = false
	o.state = StateCleared
	o.metrics.setActive(false)
	return wasValid
}

// LoadLocalTokens loads the stored tokens and returns true when all three
// were found.  The loaded tokens are not verified.
func (o *Observer) LoadLocalTokens() bool {
	tks, err := o.store.Load(o.ctx)
	switch {
	case errors.Is(err, store.ErrNotFound):
		o.logger.Debug("no stored tokens")
		return false
	case err != nil:
		o.logger.Error("unable to load stored tokens", "error", err)
		return false
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.tokens = *tks
	o.state = StateLoadedUnverified
	return true
}

// SaveTokens persists the held tokens.
func (o *Observer) SaveTokens() {
	o.mu.Lock()
	tks := o.tokens
	o.mu.Unlock()
	if err := o.store.Save(o.ctx, tks); err != nil {
		o.logger.Error("unable to save tokens", "error", err)
	}
}

// AccessToken returns the held access token, or "" when there's none.
func (o *Observer) AccessToken() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return string(o.tokens.AccessToken)
}

// IdToken returns the held id token, or "" when there's none.
func (o *Observer) IdToken() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return string(o.tokens.IdToken)
}

// RefreshToken returns the held refresh token, or "" when there's none.
func (o *Observer) RefreshToken() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return string(o.tokens.RefreshToken)
}

// UserData returns a copy of the verified id token's claims.
func (o *Observer) UserData() cognito.Claims {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.claims.Clone()
}

// IsActive returns whether the held id token was verified.
func (o *Observer) IsActive() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.isValid
}

// State returns the session's state.
func (o *Observer) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// OnTokenUpdate registers cb to be called with the session's validity after
// tokens are committed or cleared.  Callbacks are called in registration
// order; a panicking callback is recovered and logged.
// Supported options:
//   - WithSubscriberKey
func (o *Observer) OnTokenUpdate(cb func(isValid bool), opt ...Option) *Subscription {
	if cb == nil {
		o.logger.Warn("ignoring nil token update callback")
		return nil
	}
	opts := getSubscribeOpts(opt...)
	sid, err := id.New("sub")
	if err != nil {
		o.logger.Error("unable to create subscription", "error", err)
		return nil
	}
	s := &subscriber{id: sid, key: opts.withSubscriberKey, fn: cb}

	o.mu.Lock()
	defer o.mu.Unlock()
	replaced := false
	if s.key != "" {
		for i, existing := range o.subscribers {
			if existing.key == s.key {
				o.subscribers[i] = s
				replaced = true
				break
			}
		}
	}
	if !replaced {
		o.subscribers = append(o.subscribers, s)
	}
	return &Subscription{id: sid, key: s.key, observer: o}
}

func (o *Observer) unsubscribe(sid string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i, s := range o.subscribers {
		if s.id == sid {
			o.subscribers = append(o.subscribers[:i:i], o.subscribers[i+1:]...)
			return
		}
	}
}

// Done cancels background work, stops the scheduler and store change
// notifications, and waits for them to finish.  The Observer must not be used
// afterwards.
func (o *Observer) Done() {
	o.doneOnce.Do(func() {
		o.mu.Lock()
		o.closed = true
		cancelOnChange := o.cancelOnChange
		o.cancelOnChange = nil
		o.mu.Unlock()

		if cancelOnChange != nil {
			cancelOnChange()
		}
		o.cancel()
		o.scheduler.stop()
		o.wg.Wait()
	})
}

// commit adopts verified tokens and their claims.  The refresh token is kept
// when tks has none.  A nil tks commits the held tokens.
func (o *Observer) commit(tks *cognito.Tokens, claims cognito.Claims) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.commitLocked(tks, claims)
}

// commitIf commits like commit, but only while the held refresh token is
// still rt.  It reports whether the tokens were committed.
func (o *Observer) commitIf(rt cognito.RefreshToken, tks *cognito.Tokens, claims cognito.Claims) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if rt == "" || o.tokens.RefreshToken != rt {
		return false
	}
	o.commitLocked(tks, claims)
	return true
}

func (o *Observer) commitLocked(tks *cognito.Tokens, claims cognito.Claims) {
	if tks != nil {
		o.tokens.AccessToken = tks.AccessToken
		o.tokens.IdToken = tks.IdToken
		if tks.RefreshToken != "" {
			o.tokens.RefreshToken = tks.RefreshToken
		}
	}
	o.claims = claims
	o.isValid = true
	o.state = StateValid
}

func (o *Observer) setState(s State) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.state = s
}

// notify calls the subscribers with the session's validity and records the
// access token they were notified of.
func (o *Observer) notify() {
	o.mu.Lock()
	o.previousAccessToken = o.tokens.AccessToken
	active := o.isValid
	subs := make([]*subscriber, len(o.subscribers))
	copy(subs, o.subscribers)
	o.mu.Unlock()

	o.metrics.notified(active)
	for _, s := range subs {
		o.call(s, active)
	}
}

func (o *Observer) call(s *subscriber, active bool) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("token update callback panicked", "subscription", s.id, "key", s.key, "panic", r)
		}
	}()
	s.fn(active)
}

// goBackground runs fn in a goroutine tracked by Done.  It's a no-op after
// Done.
func (o *Observer) goBackground(fn func(ctx context.Context)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		fn(o.ctx)
	}()
}

// watchStore subscribes to changes made to the store by other contexts.
func (o *Observer) watchStore() {
	o.mu.Lock()
	if o.cancelOnChange != nil || o.closed {
		o.mu.Unlock()
		return
	}
	o.mu.Unlock()

	cancel, err := o.store.OnChange(func(key string) {
		o.goBackground(func(ctx context.Context) {
			o.syncFromStore(ctx, key)
		})
	})
	if err != nil {
		o.logger.Error("unable to watch store for changes", "error", err)
		return
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cancelOnChange != nil || o.closed {
		// lost a race with another Init, or Done
		go cancel()
		return
	}
	o.cancelOnChange = cancel
}

// syncFromStore adopts tokens written by another context.  Tokens whose
// access token subscribers were already notified of are ignored.
func (o *Observer) syncFromStore(ctx context.Context, key string) {
	tks, err := o.store.Load(ctx)
	switch {
	case errors.Is(err, store.ErrNotFound):
		o.logger.Debug("tokens cleared by another context", "key", key)
		if o.clearLocal() {
			o.notify()
		}
		return
	case err != nil:
		o.logger.Error("unable to load changed tokens", "key", key, "error", err)
		return
	}

	o.mu.Lock()
	unchanged := tks.AccessToken == o.previousAccessToken
	o.mu.Unlock()
	if unchanged {
		o.logger.Trace("stored tokens unchanged", "key", key)
		return
	}

	ok, claims := o.VerifyToken(ctx, string(tks.IdToken), cognito.TokenUseId)
	o.mu.Lock()
	o.tokens = *tks
	o.claims = claims
	o.isValid = ok
	if ok {
		o.state = StateValid
	} else {
		o.state = StateExpiredPendingRefresh
	}
	o.mu.Unlock()
	o.logger.Debug("adopted tokens from another context", "key", key, "valid", ok)

	o.notify()
	if ok {
		o.scheduler.start(o.ctx)
	}
}

// expiry implements refreshTarget.
func (o *Observer) expiry() (int64, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.claims.Exp(), o.tokens.RefreshToken != ""
}

// refreshExpired implements refreshTarget.
func (o *Observer) refreshExpired(ctx context.Context) bool {
	o.setState(StateExpiredPendingRefresh)
	return o.RefreshTokens(ctx)
}

// exhausted implements refreshTarget.
func (o *Observer) exhausted() {
	o.metrics.refreshed(refreshExhausted)
	o.ClearTokens()
}
