package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/foxzi/travelcrm/internal/models"
	"github.com/foxzi/travelcrm/internal/repository"
)

const minPasswordLength = 10

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Agent management commands",
}

var agentCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a new agent",
	RunE:  runAgentCreate,
}

var agentListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all agents",
	RunE:  runAgentList,
}

var agentDeleteCmd = &cobra.Command{
	Use:   "delete [email]",
	Short: "Delete an agent",
	Args:  cobra.ExactArgs(1),
	RunE:  runAgentDelete,
}

var (
	agentEmail    string
	agentName     string
	agentPassword string
	agentYes      bool
)

func init() {
	agentCreateCmd.Flags().StringVar(&agentEmail, "email", "", "Agent email")
	agentCreateCmd.Flags().StringVar(&agentName, "name", "", "Agent name")
	agentCreateCmd.Flags().StringVar(&agentPassword, "password", "", "Agent password (will prompt if not provided)")
	agentCreateCmd.MarkFlagRequired("email")

	agentDeleteCmd.Flags().BoolVarP(&agentYes, "yes", "y", false, "Do not ask for confirmation")

	agentCmd.AddCommand(agentCreateCmd, agentListCmd, agentDeleteCmd)
	rootCmd.AddCommand(agentCmd)
}

func runAgentCreate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	password := agentPassword
	if password == "" {
		password, err = promptPassword()
		if err != nil {
			return err
		}
	}
	if len(password) < minPasswordLength {
		return fmt.Errorf("password must be at least %d characters", minPasswordLength)
	}

	database, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	agent := &models.Agent{Email: agentEmail, Name: agentName}
	if err := repository.NewAgentRepository(database.DB).Create(context.Background(), agent, password); err != nil {
		return err
	}

	fmt.Printf("Agent %s created (id %s)\n", agent.Email, agent.ID)
	return nil
}

func promptPassword() (string, error) {
	fmt.Print("Enter password: ")
	first, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	fmt.Println()

	fmt.Print("Confirm password: ")
	second, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	fmt.Println()

	if string(first) != string(second) {
		return "", fmt.Errorf("passwords do not match")
	}
	return string(first), nil
}

func runAgentList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	database, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	agents, err := repository.NewAgentRepository(database.DB).List(context.Background())
	if err != nil {
		return err
	}

	fmt.Printf("%-36s  %-30s  %-20s  %s\n", "ID", "Email", "Name", "Created")
	fmt.Println(strings.Repeat("-", 110))
	for _, a := range agents {
		fmt.Printf("%-36s  %-30s  %-20s  %s\n", a.ID, a.Email, a.Name, a.CreatedAt.Format("2006-01-02 15:04"))
	}

	return nil
}

func runAgentDelete(cmd *cobra.Command, args []string) error {
	email := args[0]

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if !agentYes {
		fmt.Printf("Are you sure you want to delete agent %s? [y/N]: ", email)
		reader := bufio.NewReader(os.Stdin)
		response, _ := reader.ReadString('\n')
		response = strings.TrimSpace(strings.ToLower(response))
		if response != "y" && response != "yes" {
			fmt.Println("Cancelled")
			return nil
		}
	}

	database, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	err = repository.NewAgentRepository(database.DB).Delete(context.Background(), email)
	if errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("agent %s not found", email)
	}
	if err != nil {
		return err
	}

	fmt.Printf("Agent %s deleted\n", email)
	return nil
}
