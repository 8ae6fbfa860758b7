package billing

import (
	"time"

	"github.com/growthdeskhq/GrowthDesk/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository provides the DB operations used by the billing service. All
// mutations that can race between requests are expressed as atomic statements
// (conflict-guarded inserts, upserts, relative updates), never as
// read-modify-write in the caller.
type Repository interface {
	GetUserByID(id uint) (*models.User, error)
	GetProductByInternalReference(internalReference string) (*models.CatalogProduct, error)
	GetProductByProcessorID(processorProductID string) (*models.CatalogProduct, error)

	CreateCheckoutSession(cs *models.CheckoutSession) error
	LatestPendingCheckoutSession(userID uint) (*models.CheckoutSession, error)
	SetCheckoutSessionStatus(processorSessionID, status string) error

	CreatePaymentEventIfAbsent(ev *models.PaymentEvent) (bool, *models.PaymentEvent, error)
	// MarkPaymentEventApplied flips the marker only if it is still unapplied,
	// reporting false when a concurrent delivery got there first.
	MarkPaymentEventApplied(id uint) (bool, error)
	MarkPaymentEventError(id uint, processingErr error) error

	AddCredits(userID uint, delta int64) error
	DeductCreditsIfAvailable(userID uint, amount int64) (bool, error)
	AppendCreditTransaction(tx *models.CreditTransaction) error

	UpsertSubscription(sub *models.Subscription) error
	GetSubscriptionByUserID(userID uint) (*models.Subscription, error)
	GetSubscriptionByProcessorID(processorSubscriptionID string) (*models.Subscription, error)
	SetSubscriptionStatus(userID uint, status string) error
	SetUserTier(userID uint, tier string) error
	SetUserTrial(userID uint, startedAt, endsAt time.Time) error
	SetUserCustomerID(userID uint, processorCustomerID string) error

	InsertModulePurchaseIfAbsent(p *models.ModulePurchase) (bool, error)
	ListPurchasedRefs(userID uint) ([]string, error)

	// Transaction runs fn against a repository bound to a DB transaction.
	// Returning an error rolls everything back, including any idempotency
	// marker written inside fn.
	Transaction(fn func(Repository) error) error
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a billing repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) GetUserByID(id uint) (*models.User, error) {
	var user models.User
	if err := r.db.First(&user, id).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *gormRepository) GetProductByInternalReference(internalReference string) (*models.CatalogProduct, error) {
	var p models.CatalogProduct
	err := r.db.Where("internal_reference = ?", internalReference).First(&p).Error
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *gormRepository) GetProductByProcessorID(processorProductID string) (*models.CatalogProduct, error) {
	var p models.CatalogProduct
	err := r.db.Where("processor_product_id = ?", processorProductID).First(&p).Error
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *gormRepository) CreateCheckoutSession(cs *models.CheckoutSession) error {
	return r.db.Create(cs).Error
}

func (r *gormRepository) LatestPendingCheckoutSession(userID uint) (*models.CheckoutSession, error) {
	var cs models.CheckoutSession
	err := r.db.Where("user_id = ? AND status = ?", userID, models.CheckoutStatusPending).
		Order("created_at DESC").
		First(&cs).Error
	if err != nil {
		return nil, err
	}
	return &cs, nil
}

func (r *gormRepository) SetCheckoutSessionStatus(processorSessionID, status string) error {
	return r.db.Model(&models.CheckoutSession{}).
		Where("processor_session_id = ?", processorSessionID).
		Update("status", status).Error
}

func (r *gormRepository) CreatePaymentEventIfAbsent(ev *models.PaymentEvent) (bool, *models.PaymentEvent, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "provider_event_id"},
		},
		DoNothing: true,
	}).Create(ev)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	var stored models.PaymentEvent
	if err := r.db.Where("provider = ? AND provider_event_id = ?", ev.Provider, ev.ProviderEventID).
		First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

func (r *gormRepository) MarkPaymentEventApplied(id uint) (bool, error) {
	now := time.Now()
	tx := r.db.Model(&models.PaymentEvent{}).
		Where("id = ? AND applied_at IS NULL", id).
		Updates(map[string]interface{}{
			"applied_at":       &now,
			"processing_error": "",
		})
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

func (r *gormRepository) MarkPaymentEventError(id uint, processingErr error) error {
	errMsg := ""
	if processingErr != nil {
		errMsg = processingErr.Error()
	}
	return r.db.Model(&models.PaymentEvent{}).Where("id = ?", id).
		Update("processing_error", errMsg).Error
}

func (r *gormRepository) AddCredits(userID uint, delta int64) error {
	return r.db.Model(&models.User{}).Where("id = ?", userID).
		UpdateColumn("credits", gorm.Expr("credits + ?", delta)).Error
}

// DeductCreditsIfAvailable atomically decrements the balance only when it
// covers the amount. Returns false when the balance was insufficient.
func (r *gormRepository) DeductCreditsIfAvailable(userID uint, amount int64) (bool, error) {
	tx := r.db.Model(&models.User{}).
		Where("id = ? AND credits >= ?", userID, amount).
		UpdateColumn("credits", gorm.Expr("credits - ?", amount))
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

func (r *gormRepository) AppendCreditTransaction(ct *models.CreditTransaction) error {
	return r.db.Create(ct).Error
}

func (r *gormRepository) UpsertSubscription(sub *models.Subscription) error {
	if err := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "user_id"},
		},
		DoUpdates: clause.AssignmentColumns([]string{
			"tier",
			"status",
			"period_start",
			"period_end",
			"processor_subscription_id",
			"updated_at",
		}),
	}).Create(sub).Error; err != nil {
		return err
	}

	// Ensure ID is populated after upsert.
	return r.db.Where("user_id = ?", sub.UserID).First(sub).Error
}

func (r *gormRepository) GetSubscriptionByUserID(userID uint) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.db.Where("user_id = ?", userID).First(&sub).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *gormRepository) GetSubscriptionByProcessorID(processorSubscriptionID string) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.db.Where("processor_subscription_id = ?", processorSubscriptionID).First(&sub).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *gormRepository) SetSubscriptionStatus(userID uint, status string) error {
	return r.db.Model(&models.Subscription{}).Where("user_id = ?", userID).
		Update("status", status).Error
}

func (r *gormRepository) SetUserTier(userID uint, tier string) error {
	return r.db.Model(&models.User{}).Where("id = ?", userID).
		Update("subscription_tier", tier).Error
}

func (r *gormRepository) SetUserTrial(userID uint, startedAt, endsAt time.Time) error {
	return r.db.Model(&models.User{}).Where("id = ?", userID).
		Updates(map[string]interface{}{
			"trial_started_at": &startedAt,
			"trial_ends_at":    &endsAt,
		}).Error
}

func (r *gormRepository) SetUserCustomerID(userID uint, processorCustomerID string) error {
	return r.db.Model(&models.User{}).Where("id = ?", userID).
		Update("fanbases_customer_id", processorCustomerID).Error
}

func (r *gormRepository) InsertModulePurchaseIfAbsent(p *models.ModulePurchase) (bool, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "user_id"},
			{Name: "internal_reference"},
		},
		DoNothing: true,
	}).Create(p)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

func (r *gormRepository) ListPurchasedRefs(userID uint) ([]string, error) {
	var refs []string
	err := r.db.Model(&models.ModulePurchase{}).
		Where("user_id = ?", userID).
		Pluck("internal_reference", &refs).Error
	return refs, err
}

func (r *gormRepository) Transaction(fn func(Repository) error) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		return fn(&gormRepository{db: tx})
	})
}
