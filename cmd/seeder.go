package cmd

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/frahmantamala/approval-workflow/internal/auth"
	"github.com/frahmantamala/approval-workflow/internal/user"
	userPostgres "github.com/frahmantamala/approval-workflow/internal/user/postgres"
	"github.com/spf13/cobra"
)

var printTokens bool

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the directory with sample users",
	Long:  `Seed the user directory with one holder of every role for development and testing purposes.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig(configDir)
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}

		db, err := initDB(cfg.Database)
		if err != nil {
			log.Fatalf("failed to init db: %v", err)
		}
		defer db.Close()

		repo := userPostgres.NewRepository(db)
		ctx := context.Background()
		now := time.Now()

		seeds := []user.User{
			{ID: "00000000-0000-0000-0000-000000000001", EmployeeID: "EMP-0001", Name: "Ayu Applicant", Email: "ayu@example.com", Role: user.RoleUser, Department: "Production"},
			{ID: "00000000-0000-0000-0000-000000000002", EmployeeID: "EMP-0002", Name: "Fadhil Factory", Email: "fadhil@example.com", Role: user.RoleFactoryManager, Department: "Plant A"},
			{ID: "00000000-0000-0000-0000-000000000003", EmployeeID: "EMP-0003", Name: "Fina Factory", Email: "fina@example.com", Role: user.RoleFactoryManager, Department: "Plant B"},
			{ID: "00000000-0000-0000-0000-000000000004", EmployeeID: "EMP-0004", Name: "Dimas Director", Email: "dimas@example.com", Role: user.RoleDirector, Department: "Operations"},
			{ID: "00000000-0000-0000-0000-000000000005", EmployeeID: "EMP-0005", Name: "Maya Manager", Email: "maya@example.com", Role: user.RoleManager, Department: "Finance"},
			{ID: "00000000-0000-0000-0000-000000000006", EmployeeID: "EMP-0006", Name: "Citra CEO", Email: "citra@example.com", Role: user.RoleCEO},
			{ID: "00000000-0000-0000-0000-000000000007", EmployeeID: "EMP-0007", Name: "Padil Admin", Email: "padil@example.com", Role: user.RoleAdmin},
			{ID: "00000000-0000-0000-0000-000000000008", EmployeeID: "EMP-0008", Name: "Rina Auditor", Email: "rina@example.com", Role: user.RoleReadonly, Department: "Audit"},
		}

		var tokens auth.TokenGenerator
		if printTokens {
			tokens = auth.NewJWTTokenGenerator(cfg.Security.JWTSecret, cfg.Security.JWTIssuer, cfg.Security.AccessTokenDuration)
		}

		for i := range seeds {
			u := seeds[i]
			u.IsActive = true
			u.CreatedAt, u.UpdatedAt = now, now
			if err := repo.Upsert(ctx, &u); err != nil {
				log.Fatalf("failed to seed user %s: %v", u.Email, err)
			}
			fmt.Printf("Seeded %-16s %s (%s)\n", u.Role, u.Name, u.ID)

			if tokens != nil {
				token, err := tokens.GenerateAccessToken(u.ID, string(u.Role))
				if err != nil {
					log.Fatalf("failed to issue token for %s: %v", u.Email, err)
				}
				fmt.Printf("  token: %s\n", token)
			}
		}

		fmt.Println("Directory seeded successfully")
	},
}

func init() {
	seedCmd.Flags().BoolVar(&printTokens, "tokens", false, "Print a development access token for every seeded user")
}
