package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/growthdeskhq/GrowthDesk/app/models"
	"github.com/growthdeskhq/GrowthDesk/internal/pkg/entitlements"
	"gorm.io/gorm"
)

const subscriptionPeriodDays = 30

// errEventAlreadyApplied aborts an apply transaction whose conditional marker
// update lost to a concurrent delivery. Converted to AlreadyProcessed by the
// caller, never surfaced.
var errEventAlreadyApplied = errors.New("billing: event applied by concurrent delivery")

// EventArchiver persists raw payloads of events that could not be resolved,
// for manual reconciliation. Implementations must be best-effort safe.
type EventArchiver interface {
	ArchivePaymentEvent(ctx context.Context, eventID string, payload []byte) error
}

// Service is the reconciliation engine: it consumes normalized payment events
// from either delivery channel and applies the matching ledger mutation
// exactly once.
type Service struct {
	repo     Repository
	client   *FanbasesClient
	archiver EventArchiver
}

// NewService creates a billing service from injected collaborators.
func NewService(repo Repository, client *FanbasesClient, archiver EventArchiver) *Service {
	return &Service{repo: repo, client: client, archiver: archiver}
}

// NewServiceFromDB creates a billing service from a GORM DB handle with the
// Fanbases client configured from the environment.
func NewServiceFromDB(db *gorm.DB) *Service {
	return NewService(NewRepository(db), NewFanbasesClientFromEnv(), nil)
}

// SetArchiver attaches an archive sink for unresolvable events.
func (s *Service) SetArchiver(a EventArchiver) {
	s.archiver = a
}

// Client returns the configured Fanbases client.
func (s *Service) Client() *FanbasesClient {
	return s.client
}

// Reconcile applies the effect of a payment event exactly once, regardless of
// which channel delivered it, how many times, or in what order.
//
// The idempotency strategy is two-tiered: a coarse unique marker on the
// processor event id, plus per-entity guards (module purchase uniqueness,
// subscription upsert key) that keep a retried application harmless when two
// distinct processor events describe the same logical purchase.
func (s *Service) Reconcile(ctx context.Context, ev *NormalizedPaymentEvent) (Outcome, error) {
	if ev == nil || ev.ProviderEventID == "" {
		return Outcome{}, errors.New("payment event with provider event id is required")
	}

	product, session, err := s.resolveProduct(ev)
	if err != nil {
		s.recordUnresolved(ctx, ev, err)
		return Outcome{}, err
	}

	userID, err := s.resolveUser(ev, session)
	if err != nil {
		s.recordUnresolved(ctx, ev, err)
		return Outcome{}, err
	}

	user, err := s.repo.GetUserByID(userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			err = fmt.Errorf("%w: user id %d", ErrUserNotFound, userID)
			s.recordUnresolved(ctx, ev, err)
			return Outcome{}, err
		}
		return Outcome{}, err
	}

	marker := &models.PaymentEvent{
		Provider:        models.PaymentProviderFanbases,
		ProviderEventID: ev.ProviderEventID,
		Channel:         ev.Channel,
		EventKind:       string(ev.Kind),
		UserID:          user.ID,
		PayloadJSON:     ev.RawJSON,
	}
	outcome := Outcome{UserID: user.ID}
	err = s.repo.Transaction(func(tx Repository) error {
		// Coarse idempotency gate, inside the ledger transaction: the unique
		// (provider, provider_event_id) index serializes racing deliveries,
		// so the loser blocks on the winner's uncommitted insert and observes
		// the applied marker once it commits.
		created, stored, err := tx.CreatePaymentEventIfAbsent(marker)
		if err != nil {
			return err
		}
		if !created && stored.AppliedAt != nil {
			outcome.AlreadyProcessed = true
			return nil
		}
		// Not created but never applied: a previous attempt failed before its
		// marker committed. The per-entity guards below make re-running safe.
		if err := s.applyEvent(tx, user, product, ev); err != nil {
			return err
		}
		if session != nil {
			if err := tx.SetCheckoutSessionStatus(session.ProcessorSessionID, models.CheckoutStatusCompleted); err != nil {
				return err
			}
		}
		applied, err := tx.MarkPaymentEventApplied(stored.ID)
		if err != nil {
			return err
		}
		if !applied {
			// A concurrent delivery applied the event between our marker read
			// and the conditional update. Roll our mutation back; only the
			// winner's stands.
			return errEventAlreadyApplied
		}
		outcome.Applied = true
		return nil
	})
	if err != nil {
		if errors.Is(err, errEventAlreadyApplied) {
			return Outcome{AlreadyProcessed: true, UserID: user.ID}, nil
		}
		// The marker rolled back with the mutation, so the processor's or the
		// user's natural retry can complete the reconciliation later. Leave an
		// unapplied marker carrying the failure note for operators.
		s.recordFailedAttempt(ev, user.ID, err)
		return Outcome{}, err
	}

	return outcome, nil
}

// resolveProduct translates the event into a catalog product. Explicit echoed
// metadata wins; otherwise the most recent pending checkout session (redirect
// channel) or the processor product id (webhook channel) is the fallback.
// Subscription lifecycle events carry no product and resolve to nil.
func (s *Service) resolveProduct(ev *NormalizedPaymentEvent) (*models.CatalogProduct, *models.CheckoutSession, error) {
	if ev.Kind == KindSubscriptionCancelled || ev.Kind == KindSubscriptionCompleted {
		return nil, nil, nil
	}

	if ev.InternalReference != "" {
		// Client- or processor-supplied references are never trusted for
		// pricing or effects directly; the catalog row is authoritative.
		p, err := s.repo.GetProductByInternalReference(ev.InternalReference)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, nil, fmt.Errorf("%w: reference %q", ErrProductNotFound, ev.InternalReference)
			}
			return nil, nil, err
		}
		return p, nil, nil
	}

	if ev.Channel == ChannelRedirect && ev.UserID != 0 {
		session, err := s.repo.LatestPendingCheckoutSession(ev.UserID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, nil, fmt.Errorf("%w: no metadata and no pending checkout session", ErrProductNotFound)
			}
			return nil, nil, err
		}
		p, err := s.repo.GetProductByInternalReference(session.InternalReference)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, nil, fmt.Errorf("%w: session reference %q", ErrProductNotFound, session.InternalReference)
			}
			return nil, nil, err
		}
		return p, session, nil
	}

	if ev.Channel == ChannelWebhook && ev.ProcessorProductID != "" {
		p, err := s.repo.GetProductByProcessorID(ev.ProcessorProductID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, nil, fmt.Errorf("%w: processor product %q", ErrProductNotFound, ev.ProcessorProductID)
			}
			return nil, nil, err
		}
		return p, nil, nil
	}

	return nil, nil, fmt.Errorf("%w: event carries no product identity", ErrProductNotFound)
}

// resolveUser finds the local user a payment event belongs to.
func (s *Service) resolveUser(ev *NormalizedPaymentEvent, session *models.CheckoutSession) (uint, error) {
	if ev.UserID != 0 {
		return ev.UserID, nil
	}
	if session != nil {
		return session.UserID, nil
	}
	if ev.ProcessorSubscriptionID != "" {
		sub, err := s.repo.GetSubscriptionByProcessorID(ev.ProcessorSubscriptionID)
		if err == nil {
			return sub.UserID, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, err
		}
	}
	return 0, fmt.Errorf("%w: no metadata, session or subscription match", ErrUserNotFound)
}

// applyEvent dispatches the ledger mutation for a resolved event inside a
// repository transaction.
func (s *Service) applyEvent(tx Repository, user *models.User, product *models.CatalogProduct, ev *NormalizedPaymentEvent) error {
	switch ev.Kind {
	case KindSubscriptionCancelled:
		// Cancellation never claws back already-granted credits.
		if err := tx.SetSubscriptionStatus(user.ID, models.SubscriptionStatusCancelled); err != nil {
			return err
		}
		return tx.SetUserTier(user.ID, models.TierFree)

	case KindSubscriptionCompleted:
		if err := tx.SetSubscriptionStatus(user.ID, models.SubscriptionStatusCompleted); err != nil {
			return err
		}
		return tx.SetUserTier(user.ID, models.TierFree)
	}

	if product == nil {
		return fmt.Errorf("%w: no catalog product for event %s", ErrProductNotFound, ev.ProviderEventID)
	}
	return s.applyProductEffect(tx, user, product, ev)
}

// applyProductEffect performs the dispatch-by-product-class mutation shared
// by webhook/redirect reconciliation and the one-click charge path.
func (s *Service) applyProductEffect(tx Repository, user *models.User, product *models.CatalogProduct, ev *NormalizedPaymentEvent) error {
	switch product.ProductClass {
	case models.ProductClassTopup:
		credits, err := ParseTopupCredits(product.InternalReference)
		if err != nil {
			return err
		}
		if err := tx.AddCredits(user.ID, credits); err != nil {
			return err
		}
		return tx.AppendCreditTransaction(&models.CreditTransaction{
			UserID:   user.ID,
			Amount:   credits,
			Type:     models.CreditTxTopup,
			Metadata: eventMetadataJSON(ev, product.InternalReference),
		})

	case models.ProductClassSubscription:
		plan, ok := PlanForReference(product.InternalReference)
		if !ok {
			return fmt.Errorf("%w: no tier plan for reference %q", ErrProductNotFound, product.InternalReference)
		}
		now := time.Now()
		periodEnd := now.Add(subscriptionPeriodDays * 24 * time.Hour)
		sub := &models.Subscription{
			UserID:                  user.ID,
			Tier:                    string(plan.Tier),
			Status:                  models.SubscriptionStatusActive,
			PeriodStart:             &now,
			PeriodEnd:               &periodEnd,
			ProcessorSubscriptionID: ev.ProcessorSubscriptionID,
		}
		if err := tx.UpsertSubscription(sub); err != nil {
			return err
		}
		if err := tx.SetUserTier(user.ID, string(plan.Tier)); err != nil {
			return err
		}
		if err := tx.AddCredits(user.ID, plan.MonthlyCredits); err != nil {
			return err
		}
		return tx.AppendCreditTransaction(&models.CreditTransaction{
			UserID:   user.ID,
			Amount:   plan.MonthlyCredits,
			Type:     models.CreditTxSubscription,
			Metadata: eventMetadataJSON(ev, product.InternalReference),
		})

	case models.ProductClassModule:
		// Second idempotency layer: two distinct processor events describing
		// the same logical purchase collapse on the unique pair.
		_, err := tx.InsertModulePurchaseIfAbsent(&models.ModulePurchase{
			UserID:            user.ID,
			InternalReference: product.InternalReference,
		})
		return err

	case models.ProductClassCardSetup:
		// No ledger effect; just confirm the payment method linkage.
		if ev.ProcessorCustomerID != "" && ev.ProcessorCustomerID != user.FanbasesCustomerID {
			return tx.SetUserCustomerID(user.ID, ev.ProcessorCustomerID)
		}
		return nil

	default:
		return fmt.Errorf("%w: unknown product class %q", ErrProductNotFound, product.ProductClass)
	}
}

// recordFailedAttempt leaves an unapplied marker with the failure message
// after a rolled-back apply, so operators can see the pending retry.
func (s *Service) recordFailedAttempt(ev *NormalizedPaymentEvent, userID uint, cause error) {
	marker := &models.PaymentEvent{
		Provider:        models.PaymentProviderFanbases,
		ProviderEventID: ev.ProviderEventID,
		Channel:         ev.Channel,
		EventKind:       string(ev.Kind),
		UserID:          userID,
		PayloadJSON:     ev.RawJSON,
		ProcessingError: cause.Error(),
	}
	_, stored, err := s.repo.CreatePaymentEventIfAbsent(marker)
	if err != nil {
		log.Printf("billing: failed to record failed payment event %s: %v", ev.ProviderEventID, err)
		return
	}
	if stored.AppliedAt == nil {
		_ = s.repo.MarkPaymentEventError(stored.ID, cause)
	}
}

// recordUnresolved persists the raw event for manual review and archives it,
// so a permanently unresolvable delivery is never silently dropped.
func (s *Service) recordUnresolved(ctx context.Context, ev *NormalizedPaymentEvent, cause error) {
	marker := &models.PaymentEvent{
		Provider:        models.PaymentProviderFanbases,
		ProviderEventID: ev.ProviderEventID,
		Channel:         ev.Channel,
		EventKind:       string(ev.Kind),
		UserID:          ev.UserID,
		PayloadJSON:     ev.RawJSON,
		ProcessingError: cause.Error(),
	}
	if _, _, err := s.repo.CreatePaymentEventIfAbsent(marker); err != nil {
		log.Printf("billing: failed to record unresolved payment event %s: %v", ev.ProviderEventID, err)
	}
	if s.archiver != nil {
		if err := s.archiver.ArchivePaymentEvent(ctx, ev.ProviderEventID, []byte(ev.RawJSON)); err != nil {
			log.Printf("billing: failed to archive payment event %s: %v", ev.ProviderEventID, err)
		}
	}
}

// UserEntitlementState loads the ledger snapshot the entitlement resolver
// runs against. Reads only; may be a beat stale right after a reconcile.
func (s *Service) UserEntitlementState(ctx context.Context, userID uint) (entitlements.UserState, error) {
	_ = ctx
	state := entitlements.UserState{PurchasedRefs: map[string]bool{}}

	user, err := s.repo.GetUserByID(userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return state, fmt.Errorf("%w: user id %d", ErrUserNotFound, userID)
		}
		return state, err
	}

	now := time.Now()
	state.TrialActive = entitlements.TrialActive(user.TrialStartedAt, user.TrialEndsAt, now)
	state.DashboardAccess = user.DashboardAccess

	sub, err := s.repo.GetSubscriptionByUserID(userID)
	if err == nil {
		state.SubscriptionActive = sub.IsActive(now)
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return state, err
	}

	refs, err := s.repo.ListPurchasedRefs(userID)
	if err != nil {
		return state, err
	}
	for _, ref := range refs {
		state.PurchasedRefs[ref] = true
	}
	return state, nil
}

// ResyncUserTier recomputes the denormalized user tier from the subscription
// row, the on-demand refresh used after checkout or support interventions.
func (s *Service) ResyncUserTier(ctx context.Context, userID uint) (string, error) {
	_ = ctx
	tier := models.TierFree
	sub, err := s.repo.GetSubscriptionByUserID(userID)
	if err == nil && sub.IsActive(time.Now()) {
		tier = string(entitlements.NormalizeTier(sub.Tier))
	} else if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return "", err
	}
	if err := s.repo.SetUserTier(userID, tier); err != nil {
		return "", err
	}
	return tier, nil
}

// StartTrial begins the chat trial for a user who has never had one.
func (s *Service) StartTrial(ctx context.Context, userID uint, duration time.Duration) error {
	_ = ctx
	user, err := s.repo.GetUserByID(userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: user id %d", ErrUserNotFound, userID)
		}
		return err
	}
	if user.TrialStartedAt != nil {
		return ErrTrialAlreadyStarted
	}
	now := time.Now()
	return s.repo.SetUserTrial(userID, now, now.Add(duration))
}

// SpendCredits deducts credits for chat/tool usage. Returns false without
// mutating anything when the balance is insufficient.
func (s *Service) SpendCredits(ctx context.Context, userID uint, amount int64, note string) (bool, error) {
	_ = ctx
	if amount <= 0 {
		return false, errors.New("spend amount must be positive")
	}
	ok := false
	err := s.repo.Transaction(func(tx Repository) error {
		deducted, err := tx.DeductCreditsIfAvailable(userID, amount)
		if err != nil {
			return err
		}
		if !deducted {
			return nil
		}
		ok = true
		return tx.AppendCreditTransaction(&models.CreditTransaction{
			UserID:   userID,
			Amount:   -amount,
			Type:     models.CreditTxSpend,
			Metadata: noteMetadataJSON(note),
		})
	})
	return ok, err
}

// AdjustCredits applies an explicit admin balance correction with its own
// audit trail line.
func (s *Service) AdjustCredits(ctx context.Context, userID uint, delta int64, note string) error {
	_ = ctx
	if delta == 0 {
		return errors.New("adjustment delta must be non-zero")
	}
	return s.repo.Transaction(func(tx Repository) error {
		if err := tx.AddCredits(userID, delta); err != nil {
			return err
		}
		return tx.AppendCreditTransaction(&models.CreditTransaction{
			UserID:   userID,
			Amount:   delta,
			Type:     models.CreditTxAdmin,
			Metadata: noteMetadataJSON(note),
		})
	})
}

func eventMetadataJSON(ev *NormalizedPaymentEvent, internalReference string) string {
	b, err := json.Marshal(map[string]string{
		"provider_event_id":  ev.ProviderEventID,
		"channel":            ev.Channel,
		"internal_reference": internalReference,
	})
	if err != nil {
		return ""
	}
	return string(b)
}

func noteMetadataJSON(note string) string {
	if note == "" {
		return ""
	}
	b, err := json.Marshal(map[string]string{"note": note})
	if err != nil {
		return ""
	}
	return string(b)
}
