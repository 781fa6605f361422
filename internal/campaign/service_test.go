package campaign

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/foxzi/travelcrm/internal/db"
	"github.com/foxzi/travelcrm/internal/mailer"
	"github.com/foxzi/travelcrm/internal/models"
	"github.com/foxzi/travelcrm/internal/ratelimit"
	"github.com/foxzi/travelcrm/internal/repository"
	"github.com/foxzi/travelcrm/internal/template"
)

// fakeSender records messages instead of delivering them
type fakeSender struct {
	mu    sync.Mutex
	sent  []*mailer.Message
	fail  map[string]bool
	delay time.Duration
}

func (f *fakeSender) Send(ctx context.Context, msg *mailer.Message) (string, error) {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail[msg.To] {
		return "", &mailer.DeliveryError{Message: "550 mailbox unavailable"}
	}
	f.sent = append(f.sent, msg)
	return "<" + msg.To + "@test>", nil
}

func (f *fakeSender) recipients() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.sent))
	for _, m := range f.sent {
		out = append(out, m.To)
	}
	sort.Strings(out)
	return out
}

type fixture struct {
	db        *sql.DB
	service   *Service
	sender    *fakeSender
	contacts  *repository.ContactRepository
	templates *repository.TemplateRepository
}

func setup(t *testing.T, policy template.MissingPolicy) *fixture {
	t.Helper()

	database, err := db.NewMemory()
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	if err := database.Migrate(); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}

	sender := &fakeSender{fail: map[string]bool{}}
	service := NewService(database.DB, template.NewEngine(policy), sender, nil, Config{Concurrency: 3}, nil)
	t.Cleanup(func() {
		service.Close()
		database.Close()
	})

	return &fixture{
		db:        database.DB,
		service:   service,
		sender:    sender,
		contacts:  repository.NewContactRepository(database.DB),
		templates: repository.NewTemplateRepository(database.DB),
	}
}

func (f *fixture) contact(t *testing.T, first, email string, tags ...string) *models.Contact {
	t.Helper()
	c := &models.Contact{FirstName: first, Email: email, Status: models.StatusClient, Tags: tags}
	if err := f.contacts.Create(context.Background(), c); err != nil {
		t.Fatalf("failed to create contact: %v", err)
	}
	return c
}

func (f *fixture) template(t *testing.T, subject, html string, vars ...template.Variable) *models.EmailTemplate {
	t.Helper()
	tmpl := &models.EmailTemplate{Name: "t", Subject: subject, HTML: html, Variables: vars}
	if err := f.templates.Create(context.Background(), tmpl); err != nil {
		t.Fatalf("failed to create template: %v", err)
	}
	return tmpl
}

func (f *fixture) campaign(t *testing.T, templateID string, criteria models.TargetCriteria, vars map[string]string) *models.Campaign {
	t.Helper()
	c := &models.Campaign{
		Name:       "Verano",
		FromEmail:  "ventas@agencia.example",
		FromName:   "Agencia",
		TemplateID: templateID,
		Criteria:   criteria,
		Variables:  vars,
	}
	if err := f.service.Create(context.Background(), c); err != nil {
		t.Fatalf("failed to create campaign: %v", err)
	}
	return c
}

func TestSend(t *testing.T) {
	ctx := context.Background()
	f := setup(t, template.PolicyFail)

	f.contact(t, "Ana", "ana@example.com", "VIP")
	f.contact(t, "Luis", "luis@example.com", "VIP")
	f.contact(t, "Marta", "marta@example.com")

	tmpl := f.template(t,
		"{{firstName}}, tu código {{promo}}",
		"<p>Hola {{firstName}}{{#if lastTripDate}}, tu último viaje fue el {{lastTripDate}}{{/if}}</p>",
		template.Variable{Name: "firstName", Type: template.TypeText, Required: true},
		template.Variable{Name: "promo", Type: template.TypeText, Required: true},
	)
	c := f.campaign(t, tmpl.ID, models.TargetCriteria{Tags: []string{"VIP"}}, map[string]string{"promo": "VERANO24"})

	stats, err := f.service.Send(ctx, c.ID)
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if stats.Total != 2 || stats.Sent != 2 || stats.Failed != 0 {
		t.Errorf("Send() stats = %+v", stats)
	}

	got := f.sender.recipients()
	if strings.Join(got, ",") != "ana@example.com,luis@example.com" {
		t.Errorf("sent to %v", got)
	}
	for _, m := range f.sender.sent {
		if !strings.HasSuffix(m.Subject, "tu código VERANO24") || strings.Contains(m.HTML, "{{") {
			t.Errorf("unrendered message: %q / %q", m.Subject, m.HTML)
		}
		if m.Headers["X-Campaign-ID"] != c.ID {
			t.Errorf("X-Campaign-ID = %q", m.Headers["X-Campaign-ID"])
		}
		if strings.Contains(m.HTML, "último viaje") {
			t.Errorf("conditional block should be removed for contacts without trips: %q", m.HTML)
		}
	}

	c, _ = f.service.Get(ctx, c.ID)
	if c.Status != models.CampaignSent || c.CompletedAt == nil {
		t.Errorf("campaign status = %v, completed_at = %v", c.Status, c.CompletedAt)
	}

	recipients, total, err := f.service.Recipients(ctx, c.ID, "", 0, 0)
	if err != nil {
		t.Fatalf("Recipients() error = %v", err)
	}
	if total != 2 {
		t.Fatalf("Recipients() total = %d, want 2", total)
	}
	for _, rc := range recipients {
		if rc.Status != models.RecipientSent || rc.MessageID == "" || rc.SentAt == nil {
			t.Errorf("recipient = %+v", rc)
		}
	}

	if _, err := f.service.Send(ctx, c.ID); !errors.Is(err, ErrAlreadySending) {
		t.Errorf("second Send() error = %v, want ErrAlreadySending", err)
	}
	if len(f.sender.recipients()) != 2 {
		t.Error("second Send() must not dispatch again")
	}
}

func TestSendConcurrentDispatchesOnce(t *testing.T) {
	ctx := context.Background()
	f := setup(t, template.PolicyFail)
	f.sender.delay = 5 * time.Millisecond

	for _, email := range []string{"a@example.com", "b@example.com", "c@example.com", "d@example.com"} {
		f.contact(t, "X", email)
	}
	tmpl := f.template(t, "Hola {{firstName}}", "<p>Hola</p>")
	c := f.campaign(t, tmpl.ID, models.TargetCriteria{}, nil)

	const callers = 10
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
		errs    []error
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.service.Send(ctx, c.ID)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				winners++
			} else {
				errs = append(errs, err)
			}
		}()
	}
	wg.Wait()

	if winners != 1 {
		t.Fatalf("winners = %d, want 1", winners)
	}
	for _, err := range errs {
		if !errors.Is(err, ErrAlreadySending) {
			t.Errorf("loser error = %v, want ErrAlreadySending", err)
		}
	}
	if got := f.sender.recipients(); len(got) != 4 {
		t.Errorf("dispatched %d messages, want 4: %v", len(got), got)
	}
}

func TestSendRecordsFailures(t *testing.T) {
	ctx := context.Background()
	f := setup(t, template.PolicyFail)

	f.contact(t, "Ana", "ana@example.com")
	f.contact(t, "Luis", "luis@example.com")
	f.sender.fail["luis@example.com"] = true

	tmpl := f.template(t, "Hola {{firstName}}", "<p>x</p>")
	c := f.campaign(t, tmpl.ID, models.TargetCriteria{}, nil)

	stats, err := f.service.Send(ctx, c.ID)
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if stats.Sent != 1 || stats.Failed != 1 {
		t.Errorf("stats = %+v, want 1 sent 1 failed", stats)
	}

	failed, _, err := f.service.Recipients(ctx, c.ID, models.RecipientFailed, 0, 0)
	if err != nil {
		t.Fatalf("Recipients() error = %v", err)
	}
	if len(failed) != 1 || failed[0].Email != "luis@example.com" || !strings.Contains(failed[0].Error, "550") {
		t.Errorf("failed recipients = %+v", failed)
	}
}

func TestSendMissingRequiredVariable(t *testing.T) {
	tests := []struct {
		name     string
		policy   template.MissingPolicy
		wantSent int
		wantFail int
	}{
		{"fail policy refuses to render", template.PolicyFail, 0, 1},
		{"empty policy renders blanks", template.PolicyEmpty, 1, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			f := setup(t, tt.policy)
			f.contact(t, "Ana", "ana@example.com")

			tmpl := f.template(t, "Código {{promo}}", "<p>{{promo}}</p>",
				template.Variable{Name: "promo", Type: template.TypeText, Required: true},
			)
			c := f.campaign(t, tmpl.ID, models.TargetCriteria{}, nil)

			stats, err := f.service.Send(ctx, c.ID)
			if err != nil {
				t.Fatalf("Send() error = %v", err)
			}
			if stats.Sent != tt.wantSent || stats.Failed != tt.wantFail {
				t.Errorf("stats = %+v", stats)
			}
			if tt.wantSent == 1 && f.sender.sent[0].Subject != "Código " {
				t.Errorf("subject = %q", f.sender.sent[0].Subject)
			}
		})
	}
}

func TestLifecycleErrors(t *testing.T) {
	ctx := context.Background()
	f := setup(t, template.PolicyFail)
	tmpl := f.template(t, "s", "<p>h</p>")

	noTemplate := f.campaign(t, "", models.TargetCriteria{}, nil)
	if _, err := f.service.Send(ctx, noTemplate.ID); !errors.Is(err, ErrNoTemplate) {
		t.Errorf("Send() without template error = %v, want ErrNoTemplate", err)
	}
	if err := f.service.Schedule(ctx, noTemplate.ID, time.Now()); !errors.Is(err, ErrNoTemplate) {
		t.Errorf("Schedule() without template error = %v, want ErrNoTemplate", err)
	}

	c := f.campaign(t, tmpl.ID, models.TargetCriteria{}, nil)
	if err := f.service.Schedule(ctx, c.ID, time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("Schedule() error = %v", err)
	}
	c.Name = "Otro"
	if err := f.service.Update(ctx, c); !errors.Is(err, ErrNotEditable) {
		t.Errorf("Update() of scheduled campaign error = %v, want ErrNotEditable", err)
	}
	if err := f.service.Cancel(ctx, c.ID); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	if _, err := f.service.Send(ctx, c.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Send() of cancelled campaign error = %v, want ErrInvalidTransition", err)
	}
	if err := f.service.Unschedule(ctx, c.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Unschedule() of cancelled campaign error = %v, want ErrInvalidTransition", err)
	}

	if _, err := f.service.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(missing) error = %v, want ErrNotFound", err)
	}
	if err := f.service.Cancel(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Cancel(missing) error = %v, want ErrNotFound", err)
	}

	invalid := []*models.Campaign{
		{Name: "", FromEmail: "a@example.com"},
		{Name: "x", FromEmail: "not-an-email"},
		{Name: "x", FromEmail: "a@example.com", TemplateID: "missing"},
		{Name: "x", FromEmail: "a@example.com", Criteria: models.TargetCriteria{Status: []models.ContactStatus{"VIP"}}},
	}
	for _, c := range invalid {
		if err := f.service.Create(ctx, c); !errors.Is(err, ErrInvalid) {
			t.Errorf("Create(%+v) error = %v, want ErrInvalid", c, err)
		}
	}
}

func TestSendRejectsNestedTemplate(t *testing.T) {
	ctx := context.Background()
	f := setup(t, template.PolicyFail)
	f.contact(t, "Ana", "ana@example.com")

	tmpl := f.template(t, "s", "{{#if a}}{{#if b}}x{{/if}}{{/if}}")
	c := f.campaign(t, tmpl.ID, models.TargetCriteria{}, nil)

	if _, err := f.service.Send(ctx, c.ID); !errors.Is(err, template.ErrNestedBlocks) {
		t.Fatalf("Send() error = %v, want ErrNestedBlocks", err)
	}
	c, _ = f.service.Get(ctx, c.ID)
	if c.Status != models.CampaignDraft {
		t.Errorf("status = %v, campaign must stay DRAFT", c.Status)
	}
}

func TestPreviewRecipientsIsLive(t *testing.T) {
	ctx := context.Background()
	f := setup(t, template.PolicyFail)
	tmpl := f.template(t, "s", "<p>h</p>")

	f.contact(t, "Ana", "ana@example.com", "VIP")
	c := f.campaign(t, tmpl.ID, models.TargetCriteria{Tags: []string{"VIP"}}, nil)

	preview, err := f.service.PreviewRecipients(ctx, c.ID)
	if err != nil {
		t.Fatalf("PreviewRecipients() error = %v", err)
	}
	if len(preview) != 1 {
		t.Fatalf("PreviewRecipients() = %d contacts, want 1", len(preview))
	}

	if _, err := f.service.Send(ctx, c.ID); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	f.contact(t, "Luis", "luis@example.com", "VIP")

	preview, _ = f.service.PreviewRecipients(ctx, c.ID)
	if len(preview) != 2 {
		t.Errorf("PreviewRecipients() after new contact = %d, want 2", len(preview))
	}
	_, total, _ := f.service.Recipients(ctx, c.ID, "", 0, 0)
	if total != 1 {
		t.Errorf("snapshot size = %d, want 1", total)
	}
}

func TestPreviewMessage(t *testing.T) {
	ctx := context.Background()
	f := setup(t, template.PolicyFail)

	ana := f.contact(t, "Ana", "ana@example.com")
	tmpl := f.template(t, "Hola {{firstName}}", "<p>{{email}} {{promo}}</p>")
	c := f.campaign(t, tmpl.ID, models.TargetCriteria{}, map[string]string{"promo": "X1", "firstName": "ignored"})

	got, err := f.service.PreviewMessage(ctx, c.ID, ana.ID)
	if err != nil {
		t.Fatalf("PreviewMessage() error = %v", err)
	}
	if got.Subject != "Hola Ana" || got.HTML != "<p>ana@example.com X1</p>" {
		t.Errorf("PreviewMessage() = %+v", got)
	}
	if len(f.sender.sent) != 0 {
		t.Error("PreviewMessage() must not send")
	}
}

func TestResume(t *testing.T) {
	ctx := context.Background()
	f := setup(t, template.PolicyFail)

	f.contact(t, "Ana", "ana@example.com")
	f.contact(t, "Luis", "luis@example.com")
	tmpl := f.template(t, "Hola {{firstName}}", "<p>x</p>")
	c := f.campaign(t, tmpl.ID, models.TargetCriteria{}, nil)

	// Claimed but never delivered, as after a crash.
	if _, err := f.service.Claim(ctx, c.ID); err != nil {
		t.Fatalf("Claim() error = %v", err)
	}
	sending, err := f.service.Sending(ctx)
	if err != nil || len(sending) != 1 {
		t.Fatalf("Sending() = %v, %v", sending, err)
	}

	stats, err := f.service.Resume(ctx, c.ID)
	if err != nil {
		t.Fatalf("Resume() error = %v", err)
	}
	if stats.Sent != 2 {
		t.Errorf("Resume() stats = %+v", stats)
	}
	if _, err := f.service.Resume(ctx, c.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Resume() of sent campaign error = %v, want ErrInvalidTransition", err)
	}
}

func TestSendAsync(t *testing.T) {
	ctx := context.Background()
	f := setup(t, template.PolicyFail)

	f.contact(t, "Ana", "ana@example.com")
	tmpl := f.template(t, "Hola {{firstName}}", "<p>x</p>")
	c := f.campaign(t, tmpl.ID, models.TargetCriteria{}, nil)

	d, err := f.service.SendAsync(ctx, c.ID)
	if err != nil {
		t.Fatalf("SendAsync() error = %v", err)
	}
	if len(d.Recipients) != 1 {
		t.Errorf("claimed %d recipients, want 1", len(d.Recipients))
	}
	if _, err := f.service.SendAsync(ctx, c.ID); !errors.Is(err, ErrAlreadySending) {
		t.Errorf("second SendAsync() error = %v, want ErrAlreadySending", err)
	}

	f.service.Wait()
	c, _ = f.service.Get(ctx, c.ID)
	if c.Status != models.CampaignSent || c.Stats.Sent != 1 {
		t.Errorf("after Wait() campaign = %v %+v", c.Status, c.Stats)
	}
}

// denyingLimiter refuses the first n messages
type denyingLimiter struct {
	mu     sync.Mutex
	deny   int
	denied int
}

func (l *denyingLimiter) Allow(ctx context.Context, req *ratelimit.Request) (*ratelimit.Result, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.denied < l.deny {
		l.denied++
		return &ratelimit.Result{DeniedBy: ratelimit.LevelGlobal, RetryAfter: 5 * time.Millisecond}, nil
	}
	return &ratelimit.Result{Allowed: true}, nil
}

func TestSendWaitsForRateLimit(t *testing.T) {
	ctx := context.Background()
	f := setup(t, template.PolicyFail)
	limiter := &denyingLimiter{deny: 3}
	f.service.SetRateLimiter(limiter)

	f.contact(t, "Ana", "ana@example.com")
	f.contact(t, "Luis", "luis@example.com")
	tmpl := f.template(t, "Hola {{firstName}}", "<p>x</p>")
	c := f.campaign(t, tmpl.ID, models.TargetCriteria{}, nil)

	stats, err := f.service.Send(ctx, c.ID)
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if stats.Sent != 2 || stats.Failed != 0 {
		t.Errorf("Send() stats = %+v", stats)
	}
	if limiter.denied != 3 {
		t.Errorf("limiter denied %d messages, want 3", limiter.denied)
	}
}

func TestSendInterruptedByRateLimitResumes(t *testing.T) {
	f := setup(t, template.PolicyFail)
	limiter, err := ratelimit.NewLimiter(nil, &ratelimit.Config{
		Global: &ratelimit.LimitConfig{MessagesPerHour: 1},
	})
	if err != nil {
		t.Fatalf("NewLimiter() error = %v", err)
	}
	f.service.SetRateLimiter(limiter)

	f.contact(t, "Ana", "ana@example.com")
	f.contact(t, "Luis", "luis@example.com")
	f.contact(t, "Marta", "marta@example.com")
	tmpl := f.template(t, "Hola {{firstName}}", "<p>x</p>")
	c := f.campaign(t, tmpl.ID, models.TargetCriteria{}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if _, err := f.service.Send(ctx, c.ID); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Send() error = %v, want DeadlineExceeded", err)
	}

	bg := context.Background()
	got, _ := f.service.Get(bg, c.ID)
	if got.Status != models.CampaignSending {
		t.Fatalf("status after interruption = %s, want SENDING", got.Status)
	}
	_, pending, err := f.service.Recipients(bg, c.ID, models.RecipientPending, 0, 0)
	if err != nil {
		t.Fatalf("Recipients() error = %v", err)
	}
	if pending != 2 {
		t.Errorf("pending recipients = %d, want 2", pending)
	}

	f.service.SetRateLimiter(nil)
	stats, err := f.service.Resume(bg, c.ID)
	if err != nil {
		t.Fatalf("Resume() error = %v", err)
	}
	if stats.Sent != 3 || stats.Failed != 0 {
		t.Errorf("Resume() stats = %+v", stats)
	}
	if got := f.sender.recipients(); len(got) != 3 {
		t.Errorf("sent to %v, want 3 recipients", got)
	}
}

// brokenLimiter fails every check, as a limiter whose store is unavailable
type brokenLimiter struct{}

func (brokenLimiter) Allow(ctx context.Context, req *ratelimit.Request) (*ratelimit.Result, error) {
	return nil, errors.New("bucket store unavailable")
}

func TestSendRateLimiterErrorFailsRecipient(t *testing.T) {
	ctx := context.Background()
	f := setup(t, template.PolicyFail)
	f.service.SetRateLimiter(brokenLimiter{})

	f.contact(t, "Ana", "ana@example.com")
	tmpl := f.template(t, "Hola {{firstName}}", "<p>x</p>")
	c := f.campaign(t, tmpl.ID, models.TargetCriteria{}, nil)

	stats, err := f.service.Send(ctx, c.ID)
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if stats.Total != 1 || stats.Pending != 0 || stats.Failed != 1 {
		t.Errorf("Send() stats = %+v, want the recipient failed", stats)
	}
	if got := f.sender.recipients(); len(got) != 0 {
		t.Errorf("sent to %v without a rate limit decision", got)
	}

	failed, _, err := f.service.Recipients(ctx, c.ID, models.RecipientFailed, 0, 0)
	if err != nil {
		t.Fatalf("Recipients() error = %v", err)
	}
	if len(failed) != 1 || !strings.Contains(failed[0].Error, "bucket store unavailable") {
		t.Errorf("failed recipients = %+v", failed)
	}
}

func TestSendUnrecordedDeliveryKeepsSending(t *testing.T) {
	ctx := context.Background()
	f := setup(t, template.PolicyFail)

	f.contact(t, "Ana", "ana@example.com")
	f.contact(t, "Luis", "luis@example.com")
	tmpl := f.template(t, "Hola {{firstName}}", "<p>x</p>")
	c := f.campaign(t, tmpl.ID, models.TargetCriteria{}, nil)

	if _, err := f.db.Exec(`
		CREATE TRIGGER reject_sent BEFORE UPDATE ON campaign_recipients
		WHEN NEW.status = 'sent'
		BEGIN SELECT RAISE(ABORT, 'disk I/O error'); END`); err != nil {
		t.Fatalf("failed to create trigger: %v", err)
	}

	stats, err := f.service.Send(ctx, c.ID)
	if !errors.Is(err, ErrIncomplete) {
		t.Fatalf("Send() error = %v, want ErrIncomplete", err)
	}
	if stats.Pending != 2 {
		t.Errorf("Send() stats = %+v, want 2 pending", stats)
	}
	got, _ := f.service.Get(ctx, c.ID)
	if got.Status != models.CampaignSending {
		t.Fatalf("status = %s, want SENDING", got.Status)
	}

	if _, err := f.db.Exec("DROP TRIGGER reject_sent"); err != nil {
		t.Fatalf("failed to drop trigger: %v", err)
	}
	stats, err = f.service.Resume(ctx, c.ID)
	if err != nil {
		t.Fatalf("Resume() error = %v", err)
	}
	if stats.Sent != 2 || stats.Pending != 0 {
		t.Errorf("Resume() stats = %+v", stats)
	}
	got, _ = f.service.Get(ctx, c.ID)
	if got.Status != models.CampaignSent {
		t.Errorf("status after Resume() = %s, want SENT", got.Status)
	}
}

func TestClaimSnapshotsRecipients(t *testing.T) {
	ctx := context.Background()
	f := setup(t, template.PolicyFail)

	f.contact(t, "Ana", "ana@example.com", "VIP")
	tmpl := f.template(t, "Hola {{firstName}}", "<p>x</p>")
	c := f.campaign(t, tmpl.ID, models.TargetCriteria{Tags: []string{"VIP"}}, nil)

	d, err := f.service.Claim(ctx, c.ID)
	if err != nil {
		t.Fatalf("Claim() error = %v", err)
	}
	if len(d.Recipients) != 1 {
		t.Fatalf("Claim() recipients = %d, want 1", len(d.Recipients))
	}

	// a contact matching after the claim is not part of this dispatch
	f.contact(t, "Luis", "luis@example.com", "VIP")
	if _, err := f.service.Claim(ctx, c.ID); !errors.Is(err, ErrAlreadySending) {
		t.Errorf("second Claim() error = %v, want ErrAlreadySending", err)
	}

	stats, err := f.service.Deliver(ctx, d)
	if err != nil {
		t.Fatalf("Deliver() error = %v", err)
	}
	if stats.Total != 1 || stats.Sent != 1 {
		t.Errorf("Deliver() stats = %+v", stats)
	}
	if got := f.sender.recipients(); len(got) != 1 || got[0] != "ana@example.com" {
		t.Errorf("sent to %v, want only ana@example.com", got)
	}
}
