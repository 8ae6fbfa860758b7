package billing

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/growthdeskhq/GrowthDesk/app/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// fakeRepo is an in-memory Repository for exercising the reconciliation flow
// without a database. It mirrors the uniqueness guarantees of the schema:
// payment events per (provider, event id), module purchases per (user, ref),
// one subscription row per user.
type fakeRepo struct {
	users     map[uint]*models.User
	products  map[string]*models.CatalogProduct
	sessions  []*models.CheckoutSession
	events    []*models.PaymentEvent
	creditTxs []*models.CreditTransaction
	subs      map[uint]*models.Subscription
	purchases map[string]bool

	failAddCredits bool
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		users:     map[uint]*models.User{},
		products:  map[string]*models.CatalogProduct{},
		subs:      map[uint]*models.Subscription{},
		purchases: map[string]bool{},
	}
}

func (r *fakeRepo) GetUserByID(id uint) (*models.User, error) {
	u, ok := r.users[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return u, nil
}

func (r *fakeRepo) GetProductByInternalReference(ref string) (*models.CatalogProduct, error) {
	p, ok := r.products[ref]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return p, nil
}

func (r *fakeRepo) GetProductByProcessorID(pid string) (*models.CatalogProduct, error) {
	for _, p := range r.products {
		if p.ProcessorProductID == pid {
			return p, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeRepo) CreateCheckoutSession(cs *models.CheckoutSession) error {
	cs.ID = uint(len(r.sessions) + 1)
	r.sessions = append(r.sessions, cs)
	return nil
}

func (r *fakeRepo) LatestPendingCheckoutSession(userID uint) (*models.CheckoutSession, error) {
	for i := len(r.sessions) - 1; i >= 0; i-- {
		if r.sessions[i].UserID == userID && r.sessions[i].Status == models.CheckoutStatusPending {
			return r.sessions[i], nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeRepo) SetCheckoutSessionStatus(processorSessionID, status string) error {
	for _, s := range r.sessions {
		if s.ProcessorSessionID == processorSessionID {
			s.Status = status
		}
	}
	return nil
}

func (r *fakeRepo) CreatePaymentEventIfAbsent(ev *models.PaymentEvent) (bool, *models.PaymentEvent, error) {
	for _, existing := range r.events {
		if existing.Provider == ev.Provider && existing.ProviderEventID == ev.ProviderEventID {
			return false, existing, nil
		}
	}
	ev.ID = uint(len(r.events) + 1)
	r.events = append(r.events, ev)
	return true, ev, nil
}

func (r *fakeRepo) MarkPaymentEventApplied(id uint) (bool, error) {
	for _, ev := range r.events {
		if ev.ID == id {
			if ev.AppliedAt != nil {
				return false, nil
			}
			now := time.Now()
			ev.AppliedAt = &now
			ev.ProcessingError = ""
			return true, nil
		}
	}
	return false, gorm.ErrRecordNotFound
}

func (r *fakeRepo) MarkPaymentEventError(id uint, processingErr error) error {
	for _, ev := range r.events {
		if ev.ID == id {
			ev.ProcessingError = processingErr.Error()
			return nil
		}
	}
	return gorm.ErrRecordNotFound
}

func (r *fakeRepo) AddCredits(userID uint, delta int64) error {
	if r.failAddCredits {
		return errors.New("credit update failed")
	}
	u, ok := r.users[userID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	u.Credits += delta
	return nil
}

func (r *fakeRepo) DeductCreditsIfAvailable(userID uint, amount int64) (bool, error) {
	u, ok := r.users[userID]
	if !ok {
		return false, gorm.ErrRecordNotFound
	}
	if u.Credits < amount {
		return false, nil
	}
	u.Credits -= amount
	return true, nil
}

func (r *fakeRepo) AppendCreditTransaction(tx *models.CreditTransaction) error {
	r.creditTxs = append(r.creditTxs, tx)
	return nil
}

func (r *fakeRepo) UpsertSubscription(sub *models.Subscription) error {
	if existing, ok := r.subs[sub.UserID]; ok {
		existing.Tier = sub.Tier
		existing.Status = sub.Status
		existing.PeriodStart = sub.PeriodStart
		existing.PeriodEnd = sub.PeriodEnd
		if sub.ProcessorSubscriptionID != "" {
			existing.ProcessorSubscriptionID = sub.ProcessorSubscriptionID
		}
		return nil
	}
	r.subs[sub.UserID] = sub
	return nil
}

func (r *fakeRepo) GetSubscriptionByUserID(userID uint) (*models.Subscription, error) {
	sub, ok := r.subs[userID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return sub, nil
}

func (r *fakeRepo) GetSubscriptionByProcessorID(id string) (*models.Subscription, error) {
	for _, sub := range r.subs {
		if sub.ProcessorSubscriptionID == id {
			return sub, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeRepo) SetSubscriptionStatus(userID uint, status string) error {
	if sub, ok := r.subs[userID]; ok {
		sub.Status = status
	}
	return nil
}

func (r *fakeRepo) SetUserTier(userID uint, tier string) error {
	u, ok := r.users[userID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	u.SubscriptionTier = tier
	return nil
}

func (r *fakeRepo) SetUserTrial(userID uint, startedAt, endsAt time.Time) error {
	u, ok := r.users[userID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	u.TrialStartedAt = &startedAt
	u.TrialEndsAt = &endsAt
	return nil
}

func (r *fakeRepo) SetUserCustomerID(userID uint, processorCustomerID string) error {
	u, ok := r.users[userID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	u.FanbasesCustomerID = processorCustomerID
	return nil
}

func (r *fakeRepo) InsertModulePurchaseIfAbsent(p *models.ModulePurchase) (bool, error) {
	key := fmt.Sprintf("%d|%s", p.UserID, p.InternalReference)
	if r.purchases[key] {
		return false, nil
	}
	r.purchases[key] = true
	return true, nil
}

func (r *fakeRepo) ListPurchasedRefs(userID uint) ([]string, error) {
	var refs []string
	prefix := fmt.Sprintf("%d|", userID)
	for key := range r.purchases {
		if len(key) > len(prefix) && key[:len(prefix)] == prefix {
			refs = append(refs, key[len(prefix):])
		}
	}
	return refs, nil
}

// Transaction snapshots the state and restores it when fn fails, mirroring
// the rollback semantics of the real store.
func (r *fakeRepo) Transaction(fn func(Repository) error) error {
	snap := r.snapshot()
	if err := fn(r); err != nil {
		r.restore(snap)
		return err
	}
	return nil
}

type fakeState struct {
	users     map[uint]*models.User
	sessions  []*models.CheckoutSession
	events    []*models.PaymentEvent
	creditTxs []*models.CreditTransaction
	subs      map[uint]*models.Subscription
	purchases map[string]bool
}

func (r *fakeRepo) snapshot() *fakeState {
	s := &fakeState{
		users:     map[uint]*models.User{},
		subs:      map[uint]*models.Subscription{},
		purchases: map[string]bool{},
	}
	for id, u := range r.users {
		cp := *u
		s.users[id] = &cp
	}
	for id, sub := range r.subs {
		cp := *sub
		s.subs[id] = &cp
	}
	for k, v := range r.purchases {
		s.purchases[k] = v
	}
	for _, cs := range r.sessions {
		cp := *cs
		s.sessions = append(s.sessions, &cp)
	}
	for _, ev := range r.events {
		cp := *ev
		s.events = append(s.events, &cp)
	}
	for _, ct := range r.creditTxs {
		cp := *ct
		s.creditTxs = append(s.creditTxs, &cp)
	}
	return s
}

func (r *fakeRepo) restore(s *fakeState) {
	r.users = s.users
	r.subs = s.subs
	r.purchases = s.purchases
	r.sessions = s.sessions
	r.events = s.events
	r.creditTxs = s.creditTxs
}

func seedRepo() *fakeRepo {
	repo := newFakeRepo()
	repo.users[1] = &models.User{ID: 1, Name: "Ada", Email: "ada@example.com", SubscriptionTier: models.TierFree}
	repo.products["2500_credits"] = &models.CatalogProduct{
		ID: 1, InternalReference: "2500_credits", ProductClass: models.ProductClassTopup, ProcessorProductID: "prod_topup",
	}
	repo.products["tier2"] = &models.CatalogProduct{
		ID: 2, InternalReference: "tier2", ProductClass: models.ProductClassSubscription, ProcessorProductID: "prod_tier2",
	}
	repo.products["module-funnel"] = &models.CatalogProduct{
		ID: 3, InternalReference: "module-funnel", ProductClass: models.ProductClassModule, ProcessorProductID: "prod_module",
	}
	return repo
}

func TestReconcileTopupIsIdempotent(t *testing.T) {
	repo := seedRepo()
	svc := NewService(repo, nil, nil)

	ev := &NormalizedPaymentEvent{
		Channel:           ChannelWebhook,
		ProviderEventID:   "pay_1",
		Kind:              KindPayment,
		UserID:            1,
		InternalReference: "2500_credits",
	}

	outcome, err := svc.Reconcile(context.Background(), ev)
	require.NoError(t, err)
	assert.True(t, outcome.Applied)
	assert.Equal(t, int64(2500), repo.users[1].Credits)
	assert.Len(t, repo.creditTxs, 1)

	// The same event delivered again moves nothing.
	outcome, err = svc.Reconcile(context.Background(), ev)
	require.NoError(t, err)
	assert.True(t, outcome.AlreadyProcessed)
	assert.False(t, outcome.Applied)
	assert.Equal(t, int64(2500), repo.users[1].Credits)
	assert.Len(t, repo.creditTxs, 1)
}

// racingRepo lets a simulated concurrent delivery commit its marker right
// before this delivery's conditional apply, the narrowest duplicate window.
type racingRepo struct {
	*fakeRepo
}

func (r *racingRepo) Transaction(fn func(Repository) error) error {
	snap := r.fakeRepo.snapshot()
	if err := fn(r); err != nil {
		r.fakeRepo.restore(snap)
		return err
	}
	return nil
}

func (r *racingRepo) MarkPaymentEventApplied(id uint) (bool, error) {
	if _, err := r.fakeRepo.MarkPaymentEventApplied(id); err != nil {
		return false, err
	}
	return r.fakeRepo.MarkPaymentEventApplied(id)
}

func TestReconcileConcurrentDuplicateAppliesOnce(t *testing.T) {
	repo := seedRepo()
	// Another delivery of pay_race is mid-flight: its marker row exists but
	// is not applied yet.
	repo.events = append(repo.events, &models.PaymentEvent{
		ID:              1,
		Provider:        models.PaymentProviderFanbases,
		ProviderEventID: "pay_race",
		Channel:         ChannelWebhook,
		EventKind:       string(KindPayment),
		UserID:          1,
	})
	svc := NewService(&racingRepo{repo}, nil, nil)

	ev := &NormalizedPaymentEvent{
		Channel:           ChannelWebhook,
		ProviderEventID:   "pay_race",
		Kind:              KindPayment,
		UserID:            1,
		InternalReference: "2500_credits",
	}

	// The other delivery commits between our marker read and the conditional
	// apply. Our mutation rolls back; only the winner's grant stands.
	outcome, err := svc.Reconcile(context.Background(), ev)
	require.NoError(t, err)
	assert.True(t, outcome.AlreadyProcessed)
	assert.False(t, outcome.Applied)
	assert.Equal(t, int64(0), repo.users[1].Credits)
	assert.Empty(t, repo.creditTxs)
}

func TestReconcileCrossChannelPurchaseConverges(t *testing.T) {
	repo := seedRepo()
	svc := NewService(repo, nil, nil)

	// The redirect and the webhook report the same logical purchase under
	// different event ids. The per-entity guard collapses them.
	redirect := &NormalizedPaymentEvent{
		Channel:           ChannelRedirect,
		ProviderEventID:   "session:cs_1",
		Kind:              KindPayment,
		UserID:            1,
		InternalReference: "module-funnel",
	}
	webhook := &NormalizedPaymentEvent{
		Channel:           ChannelWebhook,
		ProviderEventID:   "pay_9",
		Kind:              KindPurchase,
		UserID:            1,
		InternalReference: "module-funnel",
	}

	_, err := svc.Reconcile(context.Background(), redirect)
	require.NoError(t, err)
	_, err = svc.Reconcile(context.Background(), webhook)
	require.NoError(t, err)

	refs, err := repo.ListPurchasedRefs(1)
	require.NoError(t, err)
	assert.Equal(t, []string{"module-funnel"}, refs)
}

func TestReconcileSubscriptionCreation(t *testing.T) {
	repo := seedRepo()
	svc := NewService(repo, nil, nil)

	ev := &NormalizedPaymentEvent{
		Channel:                 ChannelWebhook,
		ProviderEventID:         "sub:s1:created:2026-08-01",
		Kind:                    KindSubscriptionCreated,
		UserID:                  1,
		InternalReference:       "tier2",
		ProcessorSubscriptionID: "s1",
	}

	outcome, err := svc.Reconcile(context.Background(), ev)
	require.NoError(t, err)
	assert.True(t, outcome.Applied)

	assert.Equal(t, models.TierTwo, repo.users[1].SubscriptionTier)
	assert.Equal(t, int64(40000), repo.users[1].Credits)

	sub := repo.subs[1]
	require.NotNil(t, sub)
	assert.Equal(t, models.SubscriptionStatusActive, sub.Status)
	assert.Equal(t, "tier2", sub.Tier)
	require.NotNil(t, sub.PeriodEnd)
	assert.WithinDuration(t, time.Now().Add(30*24*time.Hour), *sub.PeriodEnd, time.Minute)
}

func TestReconcileSubscriptionRenewal(t *testing.T) {
	repo := seedRepo()
	svc := NewService(repo, nil, nil)

	created := &NormalizedPaymentEvent{
		Channel:                 ChannelWebhook,
		ProviderEventID:         "sub:s3:created:2026-08-01",
		Kind:                    KindSubscriptionCreated,
		UserID:                  1,
		InternalReference:       "tier2",
		ProcessorSubscriptionID: "s3",
	}
	_, err := svc.Reconcile(context.Background(), created)
	require.NoError(t, err)
	require.Equal(t, int64(40000), repo.users[1].Credits)

	// Age the running period so the extension is observable.
	soon := time.Now().Add(48 * time.Hour)
	repo.subs[1].PeriodEnd = &soon

	// The renewal carries no user metadata; the processor product id and the
	// subscription id identify it.
	renewed := &NormalizedPaymentEvent{
		Channel:                 ChannelWebhook,
		ProviderEventID:         "sub:s3:renewed:2026-09-01",
		Kind:                    KindSubscriptionRenewed,
		ProcessorProductID:      "prod_tier2",
		ProcessorSubscriptionID: "s3",
	}
	outcome, err := svc.Reconcile(context.Background(), renewed)
	require.NoError(t, err)
	assert.True(t, outcome.Applied)
	assert.Equal(t, uint(1), outcome.UserID)

	// The grant repeats and the period extends on the same subscription row.
	assert.Equal(t, int64(80000), repo.users[1].Credits)
	assert.Len(t, repo.creditTxs, 2)
	require.Len(t, repo.subs, 1)
	sub := repo.subs[1]
	assert.Equal(t, models.SubscriptionStatusActive, sub.Status)
	require.NotNil(t, sub.PeriodEnd)
	assert.WithinDuration(t, time.Now().Add(30*24*time.Hour), *sub.PeriodEnd, time.Minute)

	// A redelivered renewal moves nothing.
	outcome, err = svc.Reconcile(context.Background(), renewed)
	require.NoError(t, err)
	assert.True(t, outcome.AlreadyProcessed)
	assert.Equal(t, int64(80000), repo.users[1].Credits)
	assert.Len(t, repo.creditTxs, 2)
}

func TestReconcileCancellationKeepsCredits(t *testing.T) {
	repo := seedRepo()
	svc := NewService(repo, nil, nil)

	created := &NormalizedPaymentEvent{
		Channel:                 ChannelWebhook,
		ProviderEventID:         "sub:s1:created:2026-08-01",
		Kind:                    KindSubscriptionCreated,
		UserID:                  1,
		InternalReference:       "tier2",
		ProcessorSubscriptionID: "s1",
	}
	_, err := svc.Reconcile(context.Background(), created)
	require.NoError(t, err)
	require.Equal(t, int64(40000), repo.users[1].Credits)

	// The cancellation arrives without user metadata; the subscription id is
	// the only link back to the account.
	cancelled := &NormalizedPaymentEvent{
		Channel:                 ChannelWebhook,
		ProviderEventID:         "sub:s1:cancelled:2026-08-15",
		Kind:                    KindSubscriptionCancelled,
		ProcessorSubscriptionID: "s1",
	}
	outcome, err := svc.Reconcile(context.Background(), cancelled)
	require.NoError(t, err)
	assert.True(t, outcome.Applied)
	// The resolved account is reported so callers can refresh caches.
	assert.Equal(t, uint(1), outcome.UserID)

	assert.Equal(t, models.SubscriptionStatusCancelled, repo.subs[1].Status)
	assert.Equal(t, models.TierFree, repo.users[1].SubscriptionTier)
	// Already-granted credits stay untouched.
	assert.Equal(t, int64(40000), repo.users[1].Credits)
}

func TestReconcileLedgerFailureIsRetryable(t *testing.T) {
	repo := seedRepo()
	svc := NewService(repo, nil, nil)

	ev := &NormalizedPaymentEvent{
		Channel:           ChannelWebhook,
		ProviderEventID:   "pay_5",
		Kind:              KindPayment,
		UserID:            1,
		InternalReference: "2500_credits",
	}

	repo.failAddCredits = true
	_, err := svc.Reconcile(context.Background(), ev)
	require.Error(t, err)

	// The marker exists but was never applied, so the redelivery retries.
	require.Len(t, repo.events, 1)
	assert.Nil(t, repo.events[0].AppliedAt)
	assert.NotEmpty(t, repo.events[0].ProcessingError)
	assert.Equal(t, int64(0), repo.users[1].Credits)

	repo.failAddCredits = false
	outcome, err := svc.Reconcile(context.Background(), ev)
	require.NoError(t, err)
	assert.True(t, outcome.Applied)
	assert.Equal(t, int64(2500), repo.users[1].Credits)
}

func TestReconcileUnknownProductIsFlagged(t *testing.T) {
	repo := seedRepo()
	svc := NewService(repo, nil, nil)

	ev := &NormalizedPaymentEvent{
		Channel:           ChannelWebhook,
		ProviderEventID:   "pay_404",
		Kind:              KindPayment,
		UserID:            1,
		InternalReference: "no_such_product",
	}

	_, err := svc.Reconcile(context.Background(), ev)
	require.ErrorIs(t, err, ErrProductNotFound)

	// The raw event is persisted for manual reconciliation.
	require.Len(t, repo.events, 1)
	assert.NotEmpty(t, repo.events[0].ProcessingError)
	assert.Nil(t, repo.events[0].AppliedAt)
}

func TestReconcileRedirectFallsBackToPendingSession(t *testing.T) {
	repo := seedRepo()
	svc := NewService(repo, nil, nil)

	require.NoError(t, repo.CreateCheckoutSession(&models.CheckoutSession{
		UserID:             1,
		ProcessorSessionID: "cs_55",
		ProductClass:       models.ProductClassTopup,
		InternalReference:  "2500_credits",
		Status:             models.CheckoutStatusPending,
	}))

	// The redirect carries no echoed metadata; the stored pending session is
	// the reconciliation key.
	ev := &NormalizedPaymentEvent{
		Channel:         ChannelRedirect,
		ProviderEventID: "session:cs_55",
		Kind:            KindPayment,
		UserID:          1,
	}

	outcome, err := svc.Reconcile(context.Background(), ev)
	require.NoError(t, err)
	assert.True(t, outcome.Applied)
	assert.Equal(t, int64(2500), repo.users[1].Credits)
	assert.Equal(t, models.CheckoutStatusCompleted, repo.sessions[0].Status)
}

func TestStartTrialOnlyOnce(t *testing.T) {
	repo := seedRepo()
	svc := NewService(repo, nil, nil)

	require.NoError(t, svc.StartTrial(context.Background(), 1, 7*24*time.Hour))
	require.NotNil(t, repo.users[1].TrialStartedAt)
	require.NotNil(t, repo.users[1].TrialEndsAt)

	err := svc.StartTrial(context.Background(), 1, 7*24*time.Hour)
	assert.ErrorIs(t, err, ErrTrialAlreadyStarted)
}

func TestSpendCredits(t *testing.T) {
	repo := seedRepo()
	repo.users[1].Credits = 100
	svc := NewService(repo, nil, nil)

	ok, err := svc.SpendCredits(context.Background(), 1, 60, "chat completion")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(40), repo.users[1].Credits)
	assert.Len(t, repo.creditTxs, 1)
	assert.Equal(t, int64(-60), repo.creditTxs[0].Amount)

	// Insufficient balance deducts nothing and writes no ledger line.
	ok, err = svc.SpendCredits(context.Background(), 1, 60, "chat completion")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, int64(40), repo.users[1].Credits)
	assert.Len(t, repo.creditTxs, 1)
}

func TestResyncUserTier(t *testing.T) {
	repo := seedRepo()
	svc := NewService(repo, nil, nil)

	// No subscription row resolves to free.
	tier, err := svc.ResyncUserTier(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, models.TierFree, tier)

	now := time.Now()
	end := now.Add(10 * 24 * time.Hour)
	repo.subs[1] = &models.Subscription{
		UserID: 1, Tier: "tier2", Status: models.SubscriptionStatusActive,
		PeriodStart: &now, PeriodEnd: &end,
	}
	tier, err = svc.ResyncUserTier(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, models.TierTwo, tier)
	assert.Equal(t, models.TierTwo, repo.users[1].SubscriptionTier)

	// An expired subscription downgrades back to free.
	past := now.Add(-time.Hour)
	repo.subs[1].PeriodEnd = &past
	tier, err = svc.ResyncUserTier(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, models.TierFree, tier)
}

func TestUserEntitlementState(t *testing.T) {
	repo := seedRepo()
	svc := NewService(repo, nil, nil)

	now := time.Now()
	end := now.Add(24 * time.Hour)
	repo.subs[1] = &models.Subscription{
		UserID: 1, Tier: "tier1", Status: models.SubscriptionStatusActive,
		PeriodStart: &now, PeriodEnd: &end,
	}
	_, err := repo.InsertModulePurchaseIfAbsent(&models.ModulePurchase{UserID: 1, InternalReference: "module-funnel"})
	require.NoError(t, err)

	state, err := svc.UserEntitlementState(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, state.SubscriptionActive)
	assert.False(t, state.TrialActive)
	assert.True(t, state.PurchasedRefs["module-funnel"])
}
