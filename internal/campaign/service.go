// Package campaign drives the campaign lifecycle: editing, scheduling,
// recipient resolution and dispatch through a mailer.
package campaign

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/mail"
	"sync"
	"time"

	"github.com/foxzi/travelcrm/internal/mailer"
	"github.com/foxzi/travelcrm/internal/metrics"
	"github.com/foxzi/travelcrm/internal/models"
	"github.com/foxzi/travelcrm/internal/ratelimit"
	"github.com/foxzi/travelcrm/internal/repository"
	"github.com/foxzi/travelcrm/internal/targeting"
	"github.com/foxzi/travelcrm/internal/template"
)

var (
	// ErrNotFound is returned for unknown campaigns
	ErrNotFound = errors.New("campaign not found")
	// ErrNotEditable is returned when changing a campaign that left DRAFT
	ErrNotEditable = errors.New("campaign can only be edited in DRAFT")
	// ErrNoTemplate is returned when a campaign has no usable template
	ErrNoTemplate = errors.New("campaign has no template")
	// ErrInvalid is returned for campaigns with missing or malformed fields
	ErrInvalid = errors.New("invalid campaign")
	// ErrIncomplete is returned when a dispatch ends with recipients still
	// pending. The campaign stays SENDING so Resume can finish it.
	ErrIncomplete = errors.New("campaign has undelivered recipients")

	ErrInvalidTransition = repository.ErrInvalidTransition
	ErrAlreadySending    = repository.ErrAlreadySending
)

// Config holds dispatch settings
type Config struct {
	Concurrency int
}

// RateLimiter decides whether a message may leave now
type RateLimiter interface {
	Allow(ctx context.Context, req *ratelimit.Request) (*ratelimit.Result, error)
}

// Service implements campaign operations on top of the repositories
type Service struct {
	campaigns *repository.CampaignRepository
	contacts  *repository.ContactRepository
	templates *repository.TemplateRepository
	resolver  *targeting.Resolver
	engine    *template.Engine
	sender    mailer.Sender
	limiter   RateLimiter
	logger    *slog.Logger

	concurrency int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewService creates a campaign service
func NewService(db *sql.DB, engine *template.Engine, sender mailer.Sender, resolver *targeting.Resolver, cfg Config, logger *slog.Logger) *Service {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 5
	}
	if resolver == nil {
		resolver = targeting.NewResolver()
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &Service{
		campaigns:   repository.NewCampaignRepository(db),
		contacts:    repository.NewContactRepository(db),
		templates:   repository.NewTemplateRepository(db),
		resolver:    resolver,
		engine:      engine,
		sender:      sender,
		logger:      logger.With("component", "campaign"),
		concurrency: cfg.Concurrency,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// SetRateLimiter throttles deliveries through l
func (s *Service) SetRateLimiter(l RateLimiter) {
	s.limiter = l
}

// Close cancels background dispatches and waits for them to return
func (s *Service) Close() {
	s.cancel()
	s.wg.Wait()
}

// Wait blocks until background dispatches have finished
func (s *Service) Wait() {
	s.wg.Wait()
}

func validate(c *models.Campaign) error {
	if c.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalid)
	}
	if _, err := mail.ParseAddress(c.FromEmail); err != nil {
		return fmt.Errorf("%w: from_email %q is not a valid address", ErrInvalid, c.FromEmail)
	}
	if c.ReplyTo != "" {
		if _, err := mail.ParseAddress(c.ReplyTo); err != nil {
			return fmt.Errorf("%w: reply_to %q is not a valid address", ErrInvalid, c.ReplyTo)
		}
	}
	return validateCriteria(c.Criteria)
}

func validateCriteria(tc models.TargetCriteria) error {
	for _, s := range tc.Status {
		if !s.Valid() {
			return fmt.Errorf("%w: unknown contact status %q", ErrInvalid, s)
		}
	}
	for _, b := range tc.BudgetRange {
		if !b.Valid() {
			return fmt.Errorf("%w: unknown budget range %q", ErrInvalid, b)
		}
	}
	for _, s := range tc.Source {
		if !s.Valid() {
			return fmt.Errorf("%w: unknown lead source %q", ErrInvalid, s)
		}
	}
	if tc.LastTripDays != nil && *tc.LastTripDays < 0 {
		return fmt.Errorf("%w: last_trip_days must not be negative", ErrInvalid)
	}
	return nil
}

func (s *Service) checkTemplate(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}
	tmpl, err := s.templates.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if tmpl == nil {
		return fmt.Errorf("%w: template %s does not exist", ErrInvalid, id)
	}
	return nil
}

// Create stores a new DRAFT campaign
func (s *Service) Create(ctx context.Context, c *models.Campaign) error {
	if err := validate(c); err != nil {
		return err
	}
	if err := s.checkTemplate(ctx, c.TemplateID); err != nil {
		return err
	}
	return s.campaigns.Create(ctx, c)
}

// Get returns a campaign by ID
func (s *Service) Get(ctx context.Context, id string) (*models.Campaign, error) {
	c, err := s.campaigns.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, ErrNotFound
	}
	return c, nil
}

// List returns campaigns matching filter
func (s *Service) List(ctx context.Context, filter models.CampaignListFilter) ([]models.Campaign, int, error) {
	return s.campaigns.List(ctx, filter)
}

// Update saves a DRAFT campaign
func (s *Service) Update(ctx context.Context, c *models.Campaign) error {
	if err := validate(c); err != nil {
		return err
	}
	if err := s.checkTemplate(ctx, c.TemplateID); err != nil {
		return err
	}
	return s.mapErr(s.campaigns.Update(ctx, c), ErrNotEditable)
}

// Delete removes a campaign that is not sending
func (s *Service) Delete(ctx context.Context, id string) error {
	return s.mapErr(s.campaigns.Delete(ctx, id), ErrAlreadySending)
}

// Schedule arranges for the campaign to be sent at the given time
func (s *Service) Schedule(ctx context.Context, id string, at time.Time) error {
	c, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if c.TemplateID == "" {
		return ErrNoTemplate
	}
	return s.mapErr(s.campaigns.Schedule(ctx, id, at), ErrInvalidTransition)
}

// Unschedule returns a SCHEDULED campaign to DRAFT
func (s *Service) Unschedule(ctx context.Context, id string) error {
	return s.mapErr(s.campaigns.Unschedule(ctx, id), ErrInvalidTransition)
}

// Cancel cancels a DRAFT or SCHEDULED campaign
func (s *Service) Cancel(ctx context.Context, id string) error {
	return s.mapErr(s.campaigns.Cancel(ctx, id), ErrInvalidTransition)
}

// mapErr translates repository errors into service errors
func (s *Service) mapErr(err, transition error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, repository.ErrInvalidTransition):
		return transition
	}
	return err
}

// PreviewRecipients resolves the campaign criteria against the current
// contacts without storing anything
func (s *Service) PreviewRecipients(ctx context.Context, id string) ([]models.Contact, error) {
	c, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.contacts.Match(ctx, s.resolver.Resolve(c.Criteria))
}

// Recipients returns the recipient snapshot taken when sending started
func (s *Service) Recipients(ctx context.Context, id, status string, limit, offset int) ([]models.CampaignRecipient, int, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, 0, err
	}
	return s.campaigns.ListRecipients(ctx, id, status, limit, offset)
}

// PreviewMessage renders the campaign for one contact without sending
func (s *Service) PreviewMessage(ctx context.Context, id, contactID string) (*template.RenderResult, error) {
	c, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	tmpl, err := s.loadTemplate(ctx, c)
	if err != nil {
		return nil, err
	}
	contact, err := s.contacts.GetByID(ctx, contactID)
	if err != nil {
		return nil, err
	}
	if contact == nil {
		return nil, fmt.Errorf("%w: contact %s does not exist", ErrInvalid, contactID)
	}
	return s.engine.Render(tmpl.Content(), RecipientValues(c, contact))
}

func (s *Service) loadTemplate(ctx context.Context, c *models.Campaign) (*models.EmailTemplate, error) {
	if c.TemplateID == "" {
		return nil, ErrNoTemplate
	}
	tmpl, err := s.templates.GetByID(ctx, c.TemplateID)
	if err != nil {
		return nil, err
	}
	if tmpl == nil {
		return nil, ErrNoTemplate
	}
	return tmpl, nil
}

// Dispatch is a campaign claimed for sending together with what is needed
// to deliver it
type Dispatch struct {
	Campaign   *models.Campaign
	Template   *models.EmailTemplate
	Recipients []models.CampaignRecipient
	contacts   map[string]*models.Contact
}

// Claim resolves the recipients and moves the campaign to SENDING. Exactly
// one concurrent caller succeeds; the others get ErrAlreadySending.
//
// Recipients are matched before the claim transaction opens, so contacts
// created or edited between the two steps may be missed or included on the
// old data. Losing callers pay for the match and then get ErrAlreadySending.
func (s *Service) Claim(ctx context.Context, id string) (*Dispatch, error) {
	c, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	switch c.Status {
	case models.CampaignSending, models.CampaignSent:
		metrics.IncClaimsRejected()
		return nil, ErrAlreadySending
	case models.CampaignCancelled:
		return nil, ErrInvalidTransition
	}

	tmpl, err := s.loadTemplate(ctx, c)
	if err != nil {
		return nil, err
	}
	if err := s.engine.Validate(tmpl.Content()); err != nil {
		return nil, err
	}

	contacts, err := s.contacts.Match(ctx, s.resolver.Resolve(c.Criteria))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve recipients: %w", err)
	}

	recipients, err := s.campaigns.ClaimSending(ctx, id, contacts)
	if err != nil {
		if errors.Is(err, repository.ErrAlreadySending) {
			metrics.IncClaimsRejected()
		}
		return nil, s.mapErr(err, ErrInvalidTransition)
	}

	byID := make(map[string]*models.Contact, len(contacts))
	for i := range contacts {
		byID[contacts[i].ID] = &contacts[i]
	}

	s.logger.Info("campaign claimed for sending", "campaign_id", id, "recipients", len(recipients))
	return &Dispatch{Campaign: c, Template: tmpl, Recipients: recipients, contacts: byID}, nil
}

// Send claims the campaign and delivers it before returning
func (s *Service) Send(ctx context.Context, id string) (models.CampaignStats, error) {
	d, err := s.Claim(ctx, id)
	if err != nil {
		return models.CampaignStats{}, err
	}
	return s.Deliver(ctx, d)
}

// SendAsync claims the campaign and delivers it in the background. It
// returns once the claim is committed.
func (s *Service) SendAsync(ctx context.Context, id string) (*Dispatch, error) {
	d, err := s.Claim(ctx, id)
	if err != nil {
		return nil, err
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if _, err := s.Deliver(s.ctx, d); err != nil {
			s.logger.Error("campaign delivery failed", "campaign_id", d.Campaign.ID, "error", err)
		}
	}()
	return d, nil
}

// Deliver renders and sends every recipient of a claimed campaign, then
// marks it SENT. If a recipient is still pending afterwards, for example
// because its delivery could not be recorded, the campaign stays SENDING and
// ErrIncomplete is returned.
func (s *Service) Deliver(ctx context.Context, d *Dispatch) (models.CampaignStats, error) {
	start := time.Now()
	content := d.Template.Content()

	sem := make(chan struct{}, s.concurrency)
	var wg sync.WaitGroup

	for i := range d.Recipients {
		select {
		case <-ctx.Done():
			wg.Wait()
			return models.CampaignStats{}, ctx.Err()
		case sem <- struct{}{}:
		}

		wg.Add(1)
		go func(rc *models.CampaignRecipient) {
			defer func() {
				<-sem
				wg.Done()
			}()
			s.deliverOne(ctx, d, content, rc)
		}(&d.Recipients[i])
	}
	wg.Wait()

	// Interrupted recipients stay pending for Resume
	if err := ctx.Err(); err != nil {
		return models.CampaignStats{}, err
	}

	remaining, err := s.campaigns.RecipientStats(ctx, d.Campaign.ID)
	if err != nil {
		return remaining, fmt.Errorf("failed to count recipients: %w", err)
	}
	if remaining.Pending > 0 {
		s.logger.Warn("campaign left in SENDING",
			"campaign_id", d.Campaign.ID,
			"pending", remaining.Pending,
		)
		return remaining, fmt.Errorf("%w: %d pending", ErrIncomplete, remaining.Pending)
	}

	stats, err := s.campaigns.Complete(ctx, d.Campaign.ID)
	if err != nil {
		return stats, fmt.Errorf("failed to complete campaign: %w", err)
	}

	metrics.IncCampaignsSent()
	metrics.ObserveDispatch(time.Since(start).Seconds(), len(d.Recipients))
	s.logger.Info("campaign sent",
		"campaign_id", d.Campaign.ID,
		"sent", stats.Sent,
		"failed", stats.Failed,
		"duration", time.Since(start),
	)
	return stats, nil
}

func (s *Service) deliverOne(ctx context.Context, d *Dispatch, content *template.Template, rc *models.CampaignRecipient) {
	contact := d.contacts[rc.ContactID]
	if contact == nil {
		contact = &models.Contact{ID: rc.ContactID, Email: rc.Email, FirstName: rc.Name}
	}

	rendered, err := s.engine.Render(content, RecipientValues(d.Campaign, contact))
	if err != nil {
		metrics.IncTemplateRenders("error")
		s.fail(ctx, rc, err)
		return
	}
	metrics.IncTemplateRenders("ok")

	msg := &mailer.Message{
		From:     d.Campaign.FromEmail,
		FromName: d.Campaign.FromName,
		ReplyTo:  d.Campaign.ReplyTo,
		To:       rc.Email,
		ToName:   rc.Name,
		Subject:  rendered.Subject,
		HTML:     rendered.HTML,
		Text:     rendered.Text,
		Headers:  map[string]string{"X-Campaign-ID": d.Campaign.ID},
	}

	if err := s.throttle(ctx, msg); err != nil {
		if ctx.Err() == nil {
			s.fail(ctx, rc, fmt.Errorf("rate limiter: %w", err))
		}
		return
	}

	messageID, err := s.sender.Send(ctx, msg)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.fail(ctx, rc, err)
		return
	}

	if err := s.campaigns.MarkRecipientSent(ctx, rc.ID, messageID); err != nil {
		s.logger.Error("failed to record delivery", "recipient_id", rc.ID, "error", err)
		return
	}
	metrics.IncRecipients(models.RecipientSent)
	s.logger.Debug("message sent", "campaign_id", d.Campaign.ID, "email", rc.Email, "message_id", messageID)
}

// throttle blocks until the rate limiter lets msg through or ctx is done
func (s *Service) throttle(ctx context.Context, msg *mailer.Message) error {
	if s.limiter == nil {
		return nil
	}

	req := &ratelimit.Request{Sender: msg.From, Recipient: msg.To}
	for {
		result, err := s.limiter.Allow(ctx, req)
		if err != nil {
			return err
		}
		if result.Allowed {
			return nil
		}

		metrics.IncRateLimited(string(result.DeniedBy))
		s.logger.Debug("send delayed by rate limit",
			"email", msg.To,
			"level", result.DeniedBy,
			"key", result.DeniedKey,
			"retry_after", result.RetryAfter,
		)

		timer := time.NewTimer(result.RetryAfter)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (s *Service) fail(ctx context.Context, rc *models.CampaignRecipient, cause error) {
	metrics.IncRecipients(models.RecipientFailed)
	s.logger.Debug("recipient failed", "recipient_id", rc.ID, "email", rc.Email, "error", cause)
	if err := s.campaigns.MarkRecipientFailed(ctx, rc.ID, cause.Error()); err != nil {
		s.logger.Error("failed to record failure", "recipient_id", rc.ID, "error", err)
	}
}

// Resume delivers the pending recipients of a campaign left in SENDING,
// for example by a restart during dispatch
func (s *Service) Resume(ctx context.Context, id string) (models.CampaignStats, error) {
	c, err := s.Get(ctx, id)
	if err != nil {
		return models.CampaignStats{}, err
	}
	if c.Status != models.CampaignSending {
		return models.CampaignStats{}, ErrInvalidTransition
	}
	tmpl, err := s.loadTemplate(ctx, c)
	if err != nil {
		return models.CampaignStats{}, err
	}

	pending, _, err := s.campaigns.ListRecipients(ctx, id, models.RecipientPending, 0, 0)
	if err != nil {
		return models.CampaignStats{}, err
	}
	contacts := make(map[string]*models.Contact, len(pending))
	for _, rc := range pending {
		contact, err := s.contacts.GetByID(ctx, rc.ContactID)
		if err != nil {
			return models.CampaignStats{}, err
		}
		if contact != nil {
			contacts[rc.ContactID] = contact
		}
	}

	s.logger.Info("resuming campaign", "campaign_id", id, "pending", len(pending))
	return s.Deliver(ctx, &Dispatch{Campaign: c, Template: tmpl, Recipients: pending, contacts: contacts})
}

// Sending returns campaigns currently in SENDING
func (s *Service) Sending(ctx context.Context) ([]models.Campaign, error) {
	campaigns, _, err := s.campaigns.List(ctx, models.CampaignListFilter{Status: models.CampaignSending})
	return campaigns, err
}

// DueCampaigns returns SCHEDULED campaigns whose time has come
func (s *Service) DueCampaigns(ctx context.Context, now time.Time) ([]models.Campaign, error) {
	return s.campaigns.ListDue(ctx, now)
}
