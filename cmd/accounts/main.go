// Command accounts manages the Warp refresh-token pool on disk: add, list,
// verify, remove, and batch-import accounts without starting the proxy.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/lofyer/warp-multiproxy-go/internal/account"
	"github.com/lofyer/warp-multiproxy-go/internal/config"
	"github.com/lofyer/warp-multiproxy-go/internal/session"
)

func main() {
	args := os.Args[1:]
	command := "help"
	configPath := "config/settings.json"

	var positional []string
	for i := 0; i < len(args); i++ {
		if args[i] == "--config" && i+1 < len(args) {
			configPath = args[i+1]
			i++
			continue
		}
		positional = append(positional, args[i])
	}
	if len(positional) > 0 {
		command = positional[0]
	}

	printBanner()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading config: %v\n", err)
		os.Exit(1)
	}

	store, err := account.NewStore(cfg.Pool.AccountsDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "opening accounts directory %s: %v\n", cfg.Pool.AccountsDir, err)
		os.Exit(1)
	}
	pool := account.NewPool(store, cfg.Pool.Strategy, time.Duration(cfg.Pool.Retry429Minutes)*time.Minute)
	if err := pool.Load(); err != nil {
		fmt.Fprintf(os.Stderr, "loading accounts: %v\n", err)
		os.Exit(1)
	}

	scanner := bufio.NewScanner(os.Stdin)

	switch command {
	case "add":
		interactiveAdd(pool, scanner)
	case "import":
		if len(positional) < 2 {
			fmt.Println("Usage: accounts import <file>")
			os.Exit(1)
		}
		importFile(pool, positional[1])
	case "list":
		listAccounts(pool)
	case "verify":
		verifyAccounts(pool, cfg)
	case "remove":
		interactiveRemove(pool, scanner)
	case "help":
		printHelp()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		fmt.Println("Run with \"help\" for usage information.")
	}
}

func printBanner() {
	fmt.Println("╔════════════════════════════════════════╗")
	fmt.Println("║      Warp Multiproxy Account Manager    ║")
	fmt.Println("╚════════════════════════════════════════╝")
}

func printHelp() {
	fmt.Println("\nUsage:")
	fmt.Println("  accounts add              Add one account interactively")
	fmt.Println("  accounts import <file>    Import refresh tokens, one per line")
	fmt.Println("  accounts list             List all accounts")
	fmt.Println("  accounts verify           Verify every account's refresh token")
	fmt.Println("  accounts remove           Remove an account interactively")
	fmt.Println("  accounts help             Show this help")
	fmt.Println("\nOptions:")
	fmt.Println("  --config <path>    Path to settings.json (default config/settings.json)")
}

func prompt(scanner *bufio.Scanner, message string) string {
	fmt.Print(message)
	if scanner.Scan() {
		return strings.TrimSpace(scanner.Text())
	}
	return ""
}

// nextAccountName returns "account_N" for the smallest N not already taken,
// matching the naming scheme the accounts were originally imported under.
func nextAccountName(pool *account.Pool) string {
	existing := map[string]bool{}
	for _, a := range pool.All() {
		existing[a.Name] = true
	}
	for n := 1; ; n++ {
		name := fmt.Sprintf("account_%d", n)
		if !existing[name] {
			return name
		}
	}
}

func displayAccounts(accounts []*account.Account) {
	if len(accounts) == 0 {
		fmt.Println("\nNo accounts configured.")
		return
	}
	fmt.Printf("\n%d account(s) saved:\n", len(accounts))
	for i, a := range accounts {
		snap := a.Snap()
		status := ""
		switch {
		case !snap.Enabled:
			status = " (disabled)"
		case snap.StatusCode != "":
			status = fmt.Sprintf(" (%s)", snap.StatusCode)
		}
		fmt.Printf("  %d. %s%s\n", i+1, snap.Name, status)
	}
}

func interactiveAdd(pool *account.Pool, scanner *bufio.Scanner) {
	fmt.Println("\n=== Add Warp Account ===")

	token := prompt(scanner, "Refresh token: ")
	if token == "" {
		fmt.Println("\n✗ No refresh token provided.")
		return
	}
	for _, a := range pool.All() {
		if a.RefreshToken == token {
			fmt.Printf("\n⚠ Token already registered under account %q.\n", a.Name)
			return
		}
	}

	name := prompt(scanner, fmt.Sprintf("Account name [%s]: ", nextAccountName(pool)))
	if name == "" {
		name = nextAccountName(pool)
	}

	enabledInput := strings.ToLower(prompt(scanner, "Enabled? [Y/n]: "))
	enabled := enabledInput != "n"

	a, err := pool.Add(name, token)
	if err != nil {
		fmt.Println("Error adding account:", err)
		return
	}
	a.Enabled = enabled
	if err := pool.SaveAccount(a); err != nil {
		fmt.Println("Error saving account:", err)
		return
	}
	fmt.Printf("\n✓ Saved account %s\n", a.Name)
	displayAccounts(pool.All())
}

// importFile batch-imports refresh tokens from path, one per line, skipping
// blank lines, "#"-comments, and tokens already registered.
func importFile(pool *account.Pool, path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "reading %s: %v\n", path, err)
		os.Exit(1)
	}

	existingTokens := map[string]bool{}
	for _, a := range pool.All() {
		existingTokens[a.RefreshToken] = true
	}

	added, skipped := 0, 0
	for _, line := range strings.Split(string(data), "\n") {
		token := strings.TrimSpace(line)
		if token == "" || strings.HasPrefix(token, "#") {
			continue
		}
		if existingTokens[token] {
			fmt.Printf("  skip (duplicate token): %s...\n", token[:minInt(8, len(token))])
			skipped++
			continue
		}
		name := nextAccountName(pool)
		a, err := pool.Add(name, token)
		if err != nil {
			fmt.Printf("  skip (%v): %s...\n", err, token[:minInt(8, len(token))])
			skipped++
			continue
		}
		if err := pool.SaveAccount(a); err != nil {
			fmt.Printf("  ✗ failed to persist %s: %v\n", name, err)
			continue
		}
		existingTokens[token] = true
		fmt.Printf("  ✓ added %s\n", name)
		added++
	}
	fmt.Printf("\nImported %d account(s), skipped %d.\n", added, skipped)
}

func listAccounts(pool *account.Pool) {
	displayAccounts(pool.All())
}

func interactiveRemove(pool *account.Pool, scanner *bufio.Scanner) {
	for {
		accounts := pool.All()
		if len(accounts) == 0 {
			fmt.Println("\nNo accounts to remove.")
			return
		}

		displayAccounts(accounts)
		fmt.Println("\nEnter account number to remove (or 0 to cancel)")

		answer := prompt(scanner, "> ")
		index, err := strconv.Atoi(answer)
		if err != nil || index < 0 || index > len(accounts) {
			fmt.Println("\n❌ Invalid selection.")
			continue
		}
		if index == 0 {
			return
		}

		removed := accounts[index-1]
		confirm := prompt(scanner, fmt.Sprintf("\nAre you sure you want to remove %s? [y/N]: ", removed.Name))
		if strings.ToLower(confirm) == "y" {
			if err := pool.RemoveAccount(removed.Name); err != nil {
				fmt.Println("Error removing account:", err)
			} else {
				fmt.Printf("\n✓ Removed %s\n", removed.Name)
			}
		} else {
			fmt.Println("\nCancelled.")
		}

		again := prompt(scanner, "\nRemove another account? [y/N]: ")
		if strings.ToLower(again) != "y" {
			break
		}
	}
}

func verifyAccounts(pool *account.Pool, cfg *config.Config) {
	accounts := pool.All()
	if len(accounts) == 0 {
		fmt.Println("No accounts to verify.")
		return
	}

	fmt.Println("\nVerifying accounts...")
	sessionCli := session.New(cfg.Retry.RequestTimeout)
	ctx := context.Background()
	for i, a := range accounts {
		if i > 0 {
			time.Sleep(cfg.Retry.RefreshInterval)
		}
		if err := sessionCli.RefreshToken(ctx, a); err != nil {
			fmt.Printf("  ✗ %s - %v\n", a.Name, err)
			continue
		}
		fmt.Printf("  ✓ %s - OK\n", a.Name)
	}
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
