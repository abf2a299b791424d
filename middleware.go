package pointxgo

import (
	"context"
	"errors"
	"io"
	"strconv"
	"time"

	"github.com/sony/gobreaker/v2"
	"golang.org/x/sync/semaphore"
)

type Middleware func(Service) Service

// Chain wraps svc so that mws[0] is the outermost layer.
func Chain(svc Service, mws ...Middleware) Service {
	for i := len(mws) - 1; i >= 0; i-- {
		svc = mws[i](svc)
	}
	return svc
}

var (
	_ Service = (*validationMiddleware)(nil)
)

// validationMiddleware rejects requests that can never succeed before they
// queue for a user lock.
type validationMiddleware struct {
	next Service
}

func NewValidationMiddleware() Middleware {
	return func(svc Service) Service {
		return &validationMiddleware{
			next: svc,
		}
	}
}

func (v *validationMiddleware) Charge(ctx context.Context, req ChargeReq) (*Account, error) {
	if err := validateCharge(req); err != nil {
		return nil, err
	}
	return v.next.Charge(ctx, req)
}

func (v *validationMiddleware) Debit(ctx context.Context, req ChargeReq) (*Account, error) {
	if err := validateCharge(req); err != nil {
		return nil, err
	}
	return v.next.Debit(ctx, req)
}

func (v *validationMiddleware) Balance(ctx context.Context, req BalanceReq) (*Account, error) {
	if err := validateUser(req.UserID); err != nil {
		return nil, err
	}
	return v.next.Balance(ctx, req)
}

func (v *validationMiddleware) History(ctx context.Context, req HistoryReq) ([]Transaction, error) {
	if err := validateUser(req.UserID); err != nil {
		return nil, err
	}
	return v.next.History(ctx, req)
}

func (v *validationMiddleware) Statement(ctx context.Context, w io.Writer, req StatementReq) error {
	if err := validateUser(req.UserID); err != nil {
		return err
	}
	return v.next.Statement(ctx, w, req)
}

func validateCharge(req ChargeReq) error {
	if err := validateUser(req.UserID); err != nil {
		return err
	}
	if req.Amount < 0 {
		return &InvalidAmountError{
			Amount: strconv.FormatInt(req.Amount, 10),
			Reason: "must not be negative",
		}
	}
	return nil
}

func validateUser(id int64) error {
	if id < 0 {
		return ErrBadRequest{Fields: map[string]string{"userID": "must not be negative"}}
	}
	return nil
}

//
// Rate limiting middlewares
//

// limitMiddleware limits the number of in-flight requests per operation with
// a weighted semaphore. A request that cannot get a token within Timeout is
// shed with ErrServiceBusy. The timeout bounds only the wait for a token; a
// request admitted here then waits on its user lock without a deadline.
type limitMiddleware struct {
	next   Service
	limits *ServiceLimits
}

var (
	_ Service = (*limitMiddleware)(nil)
)

type ServiceLimits struct {
	Charge    *semaphore.Weighted
	Debit     *semaphore.Weighted
	Balance   *semaphore.Weighted
	History   *semaphore.Weighted
	Statement *semaphore.Weighted
	Timeout   time.Duration
}

func NewServiceLimits(cfg LimitsConfig) *ServiceLimits {
	return &ServiceLimits{
		Charge:    semaphore.NewWeighted(cfg.Charge),
		Debit:     semaphore.NewWeighted(cfg.Debit),
		Balance:   semaphore.NewWeighted(cfg.Balance),
		History:   semaphore.NewWeighted(cfg.History),
		Statement: semaphore.NewWeighted(cfg.Statement),
		Timeout:   cfg.AcquireTimeout,
	}
}

func NewLimitMiddleware(limits *ServiceLimits) Middleware {
	return func(next Service) Service {
		return &limitMiddleware{
			next:   next,
			limits: limits,
		}
	}
}

func (l *limitMiddleware) acquire(ctx context.Context, sem *semaphore.Weighted) error {
	actx, cancel := context.WithTimeout(ctx, l.limits.Timeout)
	defer cancel()
	if err := sem.Acquire(actx, 1); err != nil {
		return ErrServiceBusy
	}
	return nil
}

func (l *limitMiddleware) Charge(ctx context.Context, req ChargeReq) (*Account, error) {
	if err := l.acquire(ctx, l.limits.Charge); err != nil {
		return nil, err
	}
	defer l.limits.Charge.Release(1)
	return l.next.Charge(ctx, req)
}

func (l *limitMiddleware) Debit(ctx context.Context, req ChargeReq) (*Account, error) {
	if err := l.acquire(ctx, l.limits.Debit); err != nil {
		return nil, err
	}
	defer l.limits.Debit.Release(1)
	return l.next.Debit(ctx, req)
}

func (l *limitMiddleware) Balance(ctx context.Context, req BalanceReq) (*Account, error) {
	if err := l.acquire(ctx, l.limits.Balance); err != nil {
		return nil, err
	}
	defer l.limits.Balance.Release(1)
	return l.next.Balance(ctx, req)
}

func (l *limitMiddleware) History(ctx context.Context, req HistoryReq) ([]Transaction, error) {
	if err := l.acquire(ctx, l.limits.History); err != nil {
		return nil, err
	}
	defer l.limits.History.Release(1)
	return l.next.History(ctx, req)
}

func (l *limitMiddleware) Statement(ctx context.Context, w io.Writer, req StatementReq) error {
	if err := l.acquire(ctx, l.limits.Statement); err != nil {
		return err
	}
	defer l.limits.Statement.Release(1)
	return l.next.Statement(ctx, w, req)
}

type ServiceBreaker struct {
	Charge    *gobreaker.TwoStepCircuitBreaker[*Account]
	Debit     *gobreaker.TwoStepCircuitBreaker[*Account]
	Balance   *gobreaker.TwoStepCircuitBreaker[*Account]
	History   *gobreaker.TwoStepCircuitBreaker[[]Transaction]
	Statement *gobreaker.TwoStepCircuitBreaker[any]
}

// NewServiceBreaker builds one breaker per operation. Only store and
// internal faults count against a breaker; rejected input is a success from
// the breaker's point of view.
func NewServiceBreaker(cfg BreakerConfig) *ServiceBreaker {
	settings := func(name string) gobreaker.Settings {
		return gobreaker.Settings{
			Name:        name,
			MaxRequests: cfg.MaxRequests,
			Interval:    cfg.Interval,
			Timeout:     cfg.Timeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= cfg.ConsecutiveFailures
			},
		}
	}
	return &ServiceBreaker{
		Charge:    gobreaker.NewTwoStepCircuitBreaker[*Account](settings("charge")),
		Debit:     gobreaker.NewTwoStepCircuitBreaker[*Account](settings("debit")),
		Balance:   gobreaker.NewTwoStepCircuitBreaker[*Account](settings("balance")),
		History:   gobreaker.NewTwoStepCircuitBreaker[[]Transaction](settings("history")),
		Statement: gobreaker.NewTwoStepCircuitBreaker[any](settings("statement")),
	}
}

// circuitBreakMiddleware is a middleware that implements the circuit breaker pattern.
// It works in conjunction with limitMiddleware: when the store keeps failing, the
// breaker opens and requests are refused up front instead of piling up on the
// limit semaphores and user locks.
type circuitBreakMiddleware struct {
	next  Service
	brkrs *ServiceBreaker
}

var (
	_ Service = (*circuitBreakMiddleware)(nil)
)

func NewCircuitBreakMiddleware(brkrs *ServiceBreaker) Middleware {
	return func(next Service) Service {
		return &circuitBreakMiddleware{
			next:  next,
			brkrs: brkrs,
		}
	}
}

func (c *circuitBreakMiddleware) Charge(ctx context.Context, req ChargeReq) (*Account, error) {
	done, err := c.brkrs.Charge.Allow()
	if err != nil {
		return nil, breakerErr(err)
	}
	acct, err := c.next.Charge(ctx, req)
	done(breakerSuccess(err))
	return acct, err
}

func (c *circuitBreakMiddleware) Debit(ctx context.Context, req ChargeReq) (*Account, error) {
	done, err := c.brkrs.Debit.Allow()
	if err != nil {
		return nil, breakerErr(err)
	}
	acct, err := c.next.Debit(ctx, req)
	done(breakerSuccess(err))
	return acct, err
}

func (c *circuitBreakMiddleware) Balance(ctx context.Context, req BalanceReq) (*Account, error) {
	done, err := c.brkrs.Balance.Allow()
	if err != nil {
		return nil, breakerErr(err)
	}
	acct, err := c.next.Balance(ctx, req)
	done(breakerSuccess(err))
	return acct, err
}

func (c *circuitBreakMiddleware) History(ctx context.Context, req HistoryReq) ([]Transaction, error) {
	done, err := c.brkrs.History.Allow()
	if err != nil {
		return nil, breakerErr(err)
	}
	txs, err := c.next.History(ctx, req)
	done(breakerSuccess(err))
	return txs, err
}

func (c *circuitBreakMiddleware) Statement(ctx context.Context, w io.Writer, req StatementReq) error {
	done, err := c.brkrs.Statement.Allow()
	if err != nil {
		return breakerErr(err)
	}
	err = c.next.Statement(ctx, w, req)
	done(breakerSuccess(err))
	return err
}

func breakerSuccess(err error) bool {
	return err == nil || IsClientError(err)
}

func breakerErr(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return ErrServiceBusy
	}
	return err
}
