package main

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/bigkaa/warc-manager/internal/domain/model"
)

type columnAlignment int

const (
	alignLeft columnAlignment = iota
	alignRight
)

func renderTable(headers []string, rows [][]string, aligns []columnAlignment) string {
	columns := len(headers)
	if columns == 0 {
		return ""
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, columns)
	for i := range columns {
		header[i] = headers[i]
	}
	tw.AppendHeader(header)

	for _, row := range rows {
		r := make(table.Row, columns)
		for i := range columns {
			if i < len(row) {
				r[i] = row[i]
			} else {
				r[i] = ""
			}
		}
		tw.AppendRow(r)
	}

	columnConfigs := make([]table.ColumnConfig, 0, columns)
	for i := range columns {
		align := text.AlignLeft
		if i < len(aligns) && aligns[i] == alignRight {
			align = text.AlignRight
		}
		columnConfigs = append(columnConfigs, table.ColumnConfig{
			Number:      i + 1,
			Align:       align,
			AlignHeader: text.AlignLeft,
		})
	}
	tw.SetColumnConfigs(columnConfigs)

	return tw.Render()
}

const stampLayout = "2006-01-02 15:04"

func renderCollections(items []*model.Collection) string {
	if len(items) == 0 {
		return "Коллекций нет"
	}
	rows := make([][]string, 0, len(items))
	for _, c := range items {
		errMark := ""
		if c.HasErrors {
			errMark = "да"
		}
		rows = append(rows, []string{
			c.ArcCollectionID,
			c.Status.Label(),
			fmt.Sprintf("%d", c.ItemCount),
			fmt.Sprintf("%.2f", c.SizeInGigabytes()),
			errMark,
			c.UpdatedAt.Local().Format(stampLayout),
		})
	}
	return renderTable(
		[]string{"Коллекция", "Статус", "Файлов", "ГБ", "Ошибки", "Обновлена"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignLeft, alignLeft},
	)
}

func renderHistory(history []model.StatusChange) string {
	rows := make([][]string, 0, len(history))
	for _, ch := range history {
		rows = append(rows, []string{ch.Timestamp.Local().Format(stampLayout), ch.Status.Label()})
	}
	return renderTable([]string{"Время", "Статус"}, rows, nil)
}
