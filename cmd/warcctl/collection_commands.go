package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/bigkaa/warc-manager/internal/domain/model"
	"github.com/bigkaa/warc-manager/internal/service"
)

// errNotStarted — команда выполнена, но загрузка не запущена.
var errNotStarted = errors.New("загрузка не запущена")

func newCheckCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "check <collection-id>",
		Short: "Получить обзор коллекции из удалённого архива",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			wf, err := ctx.workflow(cmd.Context())
			if err != nil {
				return err
			}
			res := wf.CheckCollection(cmd.Context(), args[0])
			return printCheckResult(cmd.OutOrStdout(), res)
		},
	}
}

// printCheckResult печатает результат проверки; для сбоев возвращает ошибку.
func printCheckResult(out io.Writer, res service.CheckResult) error {
	switch res.Kind {
	case service.CheckOverview:
		fmt.Fprintln(out, renderTable(
			[]string{"Коллекция", "Файлов", "Байт", "ГБ"},
			[][]string{{
				res.CollectionID,
				fmt.Sprintf("%d", res.ItemCount),
				fmt.Sprintf("%d", res.SizeInBytes),
				fmt.Sprintf("%.2f", res.SizeInGigabytes),
			}},
			[]columnAlignment{alignLeft, alignRight, alignRight, alignRight},
		))
		fmt.Fprintf(out, "Для запуска загрузки: warcctl confirm %s --yes\n", res.Token)
		return nil
	case service.CheckBlocked:
		fmt.Fprintf(out, "Коллекция %s: %s (%s)\n", res.CollectionID, res.Reason, res.Status.Label())
		return nil
	case service.CheckNoData:
		fmt.Fprintf(out, "Коллекция %s не найдена в удалённом архиве\n", res.CollectionID)
		return nil
	default:
		return fmt.Errorf("проверка коллекции %q: %s: %w", res.CollectionID, res.Kind, res.Err)
	}
}

func newConfirmCommand(ctx *commandContext) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "confirm <collection-id>",
		Short: "Подтвердить загрузку проверенной коллекции",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			action := ""
			if yes {
				action = service.ConfirmAction
			}
			wf, err := ctx.workflow(cmd.Context())
			if err != nil {
				return err
			}
			res := wf.ConfirmDownload(cmd.Context(), args[0], action)
			return printConfirmResult(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "Подтвердить запуск загрузки")
	return cmd
}

func printConfirmResult(out io.Writer, res service.ConfirmResult) error {
	switch res.Kind {
	case service.ConfirmStarted:
		fmt.Fprintf(out, "Загрузка коллекции %s запрошена (%s)\n", res.CollectionID, res.Status.Label())
		return nil
	case service.ConfirmBlocked:
		fmt.Fprintf(out, "Коллекция %s: %s (%s)\n", res.CollectionID, res.Reason, res.Status.Label())
		return errNotStarted
	case service.ConfirmMethodNotAllowed:
		fmt.Fprintln(out, "Загрузка не подтверждена: добавьте флаг --yes")
		return errNotStarted
	default:
		return fmt.Errorf("подтверждение загрузки %q: %s: %w", res.CollectionID, res.Kind, res.Err)
	}
}

func newProgressCommand(ctx *commandContext) *cobra.Command {
	var notes string
	cmd := &cobra.Command{
		Use:       "progress <collection-id> <in_progress|complete|error>",
		Short:     "Записать отчёт загрузчика о ходе задания",
		Args:      cobra.ExactArgs(2),
		ValidArgs: []string{string(service.ProgressInProgress), string(service.ProgressComplete), string(service.ProgressError)},
		RunE: func(cmd *cobra.Command, args []string) error {
			wf, err := ctx.workflow(cmd.Context())
			if err != nil {
				return err
			}
			c, err := wf.ReportProgress(cmd.Context(), args[0], service.ProgressEvent(args[1]), notes)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Коллекция %s: %s, ошибки: %t\n", c.ArcCollectionID, c.Status.Label(), c.HasErrors)
			return nil
		},
	}
	cmd.Flags().StringVar(&notes, "notes", "", "Заметка к отчёту")
	return cmd
}

func newRecentCommand(ctx *commandContext) *cobra.Command {
	var (
		statusFlag string
		limit      int
		offset     int
	)
	cmd := &cobra.Command{
		Use:   "recent",
		Short: "Показать последние коллекции",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var st *model.CollectionStatus
			if statusFlag != "" {
				s := model.CollectionStatus(statusFlag)
				st = &s
			}
			svc, err := ctx.collections(cmd.Context())
			if err != nil {
				return err
			}
			page, err := svc.ListRecent(cmd.Context(), st, limit, offset)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderCollections(page.Items))
			fmt.Fprintf(cmd.OutOrStdout(), "Показано %d из %d\n", len(page.Items), page.Total)
			return nil
		},
	}
	cmd.Flags().StringVar(&statusFlag, "status", "", "Фильтр по статусу")
	cmd.Flags().IntVar(&limit, "limit", service.DefaultListLimit, "Размер страницы")
	cmd.Flags().IntVar(&offset, "offset", 0, "Смещение")
	return cmd
}

func newShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <collection-id>",
		Short: "Показать запись о коллекции и историю статусов",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := ctx.collections(cmd.Context())
			if err != nil {
				return err
			}
			c, err := svc.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, renderCollections([]*model.Collection{c}))
			fmt.Fprintln(out, renderHistory(c.StatusHistory))
			if c.Notes != "" {
				fmt.Fprintf(out, "Заметки: %s\n", c.Notes)
			}
			return nil
		},
	}
}
