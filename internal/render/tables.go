package render

import (
	"fmt"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/g1ibby/llm-deploy/internal/modelops"
	"github.com/g1ibby/llm-deploy/internal/vast"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
)

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle.Padding(0, 1)
			}
			return cellStyle
		}).
		Headers(headers...)
}

// Offers renders the offer browse table.
func Offers(offers []vast.Offer) string {
	t := newTable("ID", "GPU", "Total GPU RAM", "CPU/RAM", "TFLOPS", "Price")
	for _, o := range offers {
		gpu := o.GPUName
		if o.NumGPUs > 1 {
			gpu = fmt.Sprintf("%dx%s", o.NumGPUs, o.GPUName)
		}
		t.Row(
			strconv.FormatInt(o.ID, 10),
			gpu,
			formatRAM(o.GPUTotalRAMMB),
			fmt.Sprintf("%s / %s", o.CPUName, formatRAM(o.CPURAMMB)),
			formatFlops(o.TotalFlops),
			formatPrice(o.DPHTotal),
		)
	}
	return t.String()
}

// Instances renders the instance list table.
func Instances(instances []vast.Instance) string {
	t := newTable("ID", "Uptime", "Status", "GPU", "TFLOPS", "Price", "Disk", "Endpoint")
	for _, inst := range instances {
		gpu := inst.GPUName
		if inst.NumGPUs > 1 {
			gpu = fmt.Sprintf("%dx%s", inst.NumGPUs, inst.GPUName)
		}
		t.Row(
			strconv.FormatInt(inst.ID, 10),
			formatUptime(inst.StartDate),
			inst.ActualStatus,
			gpu,
			formatFlops(inst.TotalFlops),
			formatPrice(inst.DPHTotal),
			fmt.Sprintf("%.0f GB", inst.DiskSpace),
			inst.Endpoint,
		)
	}
	return t.String()
}

// Models renders the aggregate model listing.
func Models(entries []modelops.InstanceModel) string {
	t := newTable("Model", "Size", "Instance")
	for _, e := range entries {
		t.Row(
			e.Name,
			fmt.Sprintf("%.2f GB", float64(e.Size)/1e9),
			strconv.FormatInt(e.InstanceID, 10),
		)
	}
	return t.String()
}

func formatRAM(mb float64) string {
	if mb <= 0 {
		return "-"
	}
	return fmt.Sprintf("%.1f GB", mb/1024)
}

func formatPrice(dph float64) string {
	if dph <= 0 {
		return "-"
	}
	return fmt.Sprintf("%.3f$/h", dph)
}

func formatFlops(flops float64) string {
	if flops <= 0 {
		return "-"
	}
	return fmt.Sprintf("%.1f", flops)
}

func formatUptime(start float64) string {
	if start <= 0 {
		return "-"
	}
	elapsed := time.Since(time.Unix(int64(start), 0))
	hours := int(elapsed.Hours())
	minutes := int(elapsed.Minutes()) % 60
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, minutes)
	}
	return fmt.Sprintf("%dm", minutes)
}
