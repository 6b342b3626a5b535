// Package exporter writes license reports for operators.
//
// CSVWriter produces UTF-8 CSV with a BOM so spreadsheet tools detect the
// encoding. XLSXWriter produces a workbook with a styled, frozen header row
// and an auto filter. LicenseReport turns licenses into the rows both share.
//
//	headers, rows := exporter.LicenseReport(licenses)
//	err := exporter.Write("licenses.xlsx", exporter.FormatFromPath("licenses.xlsx"), headers, rows)
package exporter
