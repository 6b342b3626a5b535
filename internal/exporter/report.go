package exporter

import (
	"fmt"
	"path/filepath"
	"strings"

	"licensegate/pkg/contracts/domain"
)

// Format is an output file format
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// ParseFormat accepts "csv" or "xlsx" in any case
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatCSV, FormatXLSX:
		return f, nil
	}
	return "", fmt.Errorf("unsupported export format %q", s)
}

// FormatFromPath picks the format from the file extension, CSV by default
func FormatFromPath(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".xlsx") {
		return FormatXLSX
	}
	return FormatCSV
}

var licenseHeaders = []string{
	"License ID",
	"License Key",
	"Business Type",
	"Customer ID",
	"License Type",
	"Status",
	"Max Devices",
	"Enabled Modules",
	"Issued (UTC)",
	"Expires (UTC)",
	"Updated (UTC)",
}

// LicenseReport returns the header row and one record per license
func LicenseReport(licenses []domain.License) ([]string, [][]string) {
	records := make([][]string, 0, len(licenses))
	for _, lic := range licenses {
		records = append(records, []string{
			lic.ID,
			lic.LicenseKey,
			lic.BusinessType,
			lic.CustomerID,
			lic.LicenseType,
			string(lic.Status),
			formatInt(lic.MaxDevices),
			formatList(lic.EnabledModules),
			formatTime(lic.IssueDate),
			formatTime(lic.ExpiryDate),
			formatTime(lic.UpdatedAt),
		})
	}
	return append([]string(nil), licenseHeaders...), records
}

// Write stores the report at path in format
func Write(path string, format Format, headers []string, records [][]string) error {
	switch format {
	case FormatXLSX:
		return NewXLSXWriter("").WriteXLSX(path, headers, records)
	case FormatCSV:
		return NewCSVWriter().WriteCSV(path, WriteOptions{Headers: headers, Records: records, BOMPrefix: true})
	}
	return fmt.Errorf("unsupported export format %q", format)
}
