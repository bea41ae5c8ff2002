package excel

import (
	"fmt"

	"github.com/xuri/excelize/v2"

	"gocvek/domain/kernel"
	"gocvek/internal/errors"
	"gocvek/internal/testkit"
)

const (
	summarySheet = "Summary"
	pValueSheet  = "PValues"
	resultSheet  = "Results"
)

// NamedReport labels a study report with the procedure that produced it
type NamedReport struct {
	Name   string
	Report *testkit.StudyReport
}

// WriteStudyReport writes a workbook with one summary row per report and one
// p-value column per report.
func WriteStudyReport(path string, reports []NamedReport) error {
	if len(reports) == 0 {
		return errors.InvalidInput("no reports to write")
	}
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return errors.Wrap(err, "renaming summary sheet")
	}
	header := []interface{}{"test", "runs", "rejections", "rejection_rate", "ks_distance", "mean_p", "median_p", "std_dev_p"}
	if err := f.SetSheetRow(summarySheet, "A1", &header); err != nil {
		return errors.Wrap(err, "writing summary header")
	}
	for i, nr := range reports {
		r := nr.Report
		row := []interface{}{nr.Name, r.Runs, r.Rejections, r.RejectionRate, r.KSDistance, r.MeanP, r.MedianP, r.StdDevP}
		if err := f.SetSheetRow(summarySheet, cell(1, i+2), &row); err != nil {
			return errors.Wrapf(err, "writing summary row %d", i)
		}
	}

	if _, err := f.NewSheet(pValueSheet); err != nil {
		return errors.Wrap(err, "creating p-value sheet")
	}
	for j, nr := range reports {
		col := make([]interface{}, 0, len(nr.Report.PValues)+1)
		col = append(col, nr.Name)
		for _, p := range nr.Report.PValues {
			col = append(col, p)
		}
		if err := f.SetSheetCol(pValueSheet, cell(j+1, 1), &col); err != nil {
			return errors.Wrapf(err, "writing p-values for %s", nr.Name)
		}
	}

	if err := f.SaveAs(path); err != nil {
		return errors.Wrapf(err, "saving %s", path)
	}
	return nil
}

// WriteResults writes one row per test result
func WriteResults(path string, results []*kernel.TestResult) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", resultSheet); err != nil {
		return errors.Wrap(err, "renaming result sheet")
	}
	header := []interface{}{"run_id", "test", "p_value", "statistic", "lambda", "sigma2", "tau", "degenerate", "u_hat"}
	if err := f.SetSheetRow(resultSheet, "A1", &header); err != nil {
		return errors.Wrap(err, "writing result header")
	}
	for i, r := range results {
		row := []interface{}{
			r.RunID.String(), string(r.Test), r.PValue, r.Statistic,
			r.Lambda, r.Sigma2, r.Tau, r.Diagnostics.Degenerate, fmt.Sprint(r.UHat),
		}
		if err := f.SetSheetRow(resultSheet, cell(1, i+2), &row); err != nil {
			return errors.Wrapf(err, "writing result row %d", i)
		}
	}

	if err := f.SaveAs(path); err != nil {
		return errors.Wrapf(err, "saving %s", path)
	}
	return nil
}

func cell(col, row int) string {
	name, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		panic(err)
	}
	return name
}
