package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/foxzi/travelcrm/internal/app"
	"github.com/foxzi/travelcrm/internal/campaign"
	"github.com/foxzi/travelcrm/internal/models"
	"github.com/foxzi/travelcrm/internal/template"
)

var (
	campaignStatus string
	campaignLimit  int
)

var campaignCmd = &cobra.Command{
	Use:   "campaign",
	Short: "Campaign commands",
}

var campaignListCmd = &cobra.Command{
	Use:   "list",
	Short: "List campaigns",
	RunE:  runCampaignList,
}

var campaignSendCmd = &cobra.Command{
	Use:   "send [id]",
	Short: "Send a campaign now and wait for delivery",
	Long: `Resolve the campaign audience, take the recipient snapshot and deliver every
message through the configured mailer. A campaign that is already sending or
sent is left untouched.`,
	Args: cobra.ExactArgs(1),
	RunE: runCampaignSend,
}

var campaignRecipientsCmd = &cobra.Command{
	Use:   "recipients [id]",
	Short: "Show the contacts a campaign would address right now",
	Args:  cobra.ExactArgs(1),
	RunE:  runCampaignRecipients,
}

func init() {
	campaignListCmd.Flags().StringVar(&campaignStatus, "status", "", "Filter by status (DRAFT, SCHEDULED, SENDING, SENT, CANCELLED)")
	campaignListCmd.Flags().IntVar(&campaignLimit, "limit", 50, "Maximum number of campaigns")

	campaignCmd.AddCommand(campaignListCmd, campaignSendCmd, campaignRecipientsCmd)
	rootCmd.AddCommand(campaignCmd)
}

func runCampaignList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	database, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	service := campaign.NewService(database.DB, template.NewEngine(template.MissingPolicy(cfg.Templates.MissingPolicy)),
		nil, nil, campaign.Config{}, app.NewLogger(cfg.Logging))
	defer service.Close()

	campaigns, total, err := service.List(context.Background(), models.CampaignListFilter{
		Status: models.CampaignStatus(strings.ToUpper(campaignStatus)),
		Limit:  campaignLimit,
	})
	if err != nil {
		return err
	}

	fmt.Printf("%-36s  %-30s  %-10s  %6s  %6s  %6s\n", "ID", "Name", "Status", "Total", "Sent", "Failed")
	fmt.Println(strings.Repeat("-", 104))
	for _, c := range campaigns {
		fmt.Printf("%-36s  %-30s  %-10s  %6d  %6d  %6d\n",
			c.ID, truncate(c.Name, 30), c.Status, c.Stats.Total, c.Stats.Sent, c.Stats.Failed)
	}
	fmt.Printf("\n%d of %d campaigns\n", len(campaigns), total)

	return nil
}

func runCampaignSend(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := app.NewLogger(cfg.Logging)

	database, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	sender, sandbox, err := app.NewSender(cfg, logger)
	if err != nil {
		return err
	}
	if sandbox != nil {
		defer sandbox.Close()
	}

	service := campaign.NewService(database.DB, template.NewEngine(template.MissingPolicy(cfg.Templates.MissingPolicy)),
		sender, nil, campaign.Config{Concurrency: cfg.Worker.Concurrency}, logger)
	defer service.Close()

	limiter, err := app.NewRateLimiter(cfg, logger)
	if err != nil {
		return err
	}
	if limiter != nil {
		service.SetRateLimiter(limiter)
		defer limiter.Stop()
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	stats, err := service.Send(ctx, args[0])
	switch {
	case errors.Is(err, campaign.ErrAlreadySending):
		fmt.Printf("Campaign %s is already sending or sent\n", args[0])
		return nil
	case errors.Is(err, campaign.ErrIncomplete):
		return fmt.Errorf("campaign %s stays in SENDING, the worker resumes it on start: %w", args[0], err)
	case err != nil:
		return fmt.Errorf("failed to send campaign: %w", err)
	}

	fmt.Printf("Campaign %s sent\n", args[0])
	fmt.Printf("  Recipients: %d\n", stats.Total)
	fmt.Printf("  Sent:       %d\n", stats.Sent)
	fmt.Printf("  Failed:     %d\n", stats.Failed)
	if stats.Failed > 0 {
		return fmt.Errorf("%d of %d messages failed", stats.Failed, stats.Total)
	}
	return nil
}

func runCampaignRecipients(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	database, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	service := campaign.NewService(database.DB, template.NewEngine(template.MissingPolicy(cfg.Templates.MissingPolicy)),
		nil, nil, campaign.Config{}, app.NewLogger(cfg.Logging))
	defer service.Close()

	contacts, err := service.PreviewRecipients(context.Background(), args[0])
	if err != nil {
		return err
	}

	fmt.Printf("%-36s  %-30s  %-12s  %s\n", "ID", "Email", "Status", "Name")
	fmt.Println(strings.Repeat("-", 104))
	for _, c := range contacts {
		fmt.Printf("%-36s  %-30s  %-12s  %s %s\n", c.ID, c.Email, c.Status, c.FirstName, c.LastName)
	}
	fmt.Printf("\n%d recipients\n", len(contacts))

	return nil
}

func truncate(s string, n int) string {
	if len([]rune(s)) <= n {
		return s
	}
	return string([]rune(s)[:n-3]) + "..."
}
