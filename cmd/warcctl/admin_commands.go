package main

import (
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/spf13/cobra"

	"github.com/bigkaa/warc-manager/internal/config"
	"github.com/bigkaa/warc-manager/internal/database"
	"github.com/bigkaa/warc-manager/internal/domain/model"
	"github.com/bigkaa/warc-manager/internal/repository"
	"github.com/bigkaa/warc-manager/internal/service"
)

func newMigrateCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Управление миграциями схемы БД",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Применить все миграции",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if err := database.Migrate(cfg, ctx.logger); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Миграции применены")
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "down <steps>",
		Short: "Откатить последние миграции",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			steps, err := parseSteps(args[0])
			if err != nil {
				return err
			}
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if err := database.MigrateDown(cfg, steps, ctx.logger); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Откачено шагов: %d\n", steps)
			return nil
		},
	})

	return cmd
}

func parseSteps(raw string) (int, error) {
	steps, err := strconv.Atoi(raw)
	if err != nil || steps <= 0 {
		return 0, fmt.Errorf("количество шагов должно быть положительным числом, получено %q", raw)
	}
	return steps, nil
}

// newGrantCommand выдаёт или отзывает право подтверждать загрузки.
// Все субъекты обновляются в одной транзакции.
func newGrantCommand(ctx *commandContext) *cobra.Command {
	var revoke bool
	cmd := &cobra.Command{
		Use:   "grant <subject>...",
		Short: "Разрешить пользователям подтверждать загрузки",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pool, err := ctx.db(cmd.Context())
			if err != nil {
				return err
			}

			var updated []*model.UserProfile
			err = repository.NewTxRunner(pool).RunInTx(cmd.Context(), func(tx pgx.Tx) error {
				profiles := service.NewProfileService(repository.NewUserProfileRepository(tx), ctx.logger)
				for _, subject := range args {
					p, err := profiles.SetCanInitiate(cmd.Context(), subject, !revoke)
					if err != nil {
						return err
					}
					updated = append(updated, p)
				}
				return nil
			})
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), renderProfiles(updated))
			return nil
		},
	}
	cmd.Flags().BoolVar(&revoke, "revoke", false, "Отозвать право вместо выдачи")
	return cmd
}

func renderProfiles(profiles []*model.UserProfile) string {
	rows := make([][]string, 0, len(profiles))
	for _, p := range profiles {
		allowed := "нет"
		if p.CanInitiateDownloads {
			allowed = "да"
		}
		rows = append(rows, []string{p.Subject, p.Username, allowed})
	}
	return renderTable([]string{"Subject", "Пользователь", "Может загружать"}, rows, nil)
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Показать версию",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "warcctl %s\n", config.Version)
		},
	}
}
