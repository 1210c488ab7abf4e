// Package export renders course data to spreadsheets.
package export

import (
	"bytes"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/xuri/excelize/v2"

	"github.com/kbhujbal/edunexus/core/course"
	"github.com/kbhujbal/edunexus/core/user"
)

const (
	rosterSheet = "Roster"
	XLSXMIME    = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

var rosterHeader = []interface{}{"#", "Student ID", "First name", "Last name", "Email", "Enrolled courses", "Last login"}

// RosterFilename is the attachment name of a course roster.
func RosterFilename(c course.Course, now time.Time) string {
	return fmt.Sprintf("roster-%s-%s.xlsx", c.ID, now.UTC().Format("20060102"))
}

// Roster writes the enrolled students of c to an XLSX workbook, one row per student.
func Roster(c course.Course, students []user.User) (*bytes.Buffer, error) {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName(f.GetSheetName(0), rosterSheet); err != nil {
		return nil, errors.Wrap(err, "naming roster sheet")
	}
	if err := f.SetSheetRow(rosterSheet, "A1", &[]interface{}{c.Title}); err != nil {
		return nil, errors.Wrap(err, "writing roster title")
	}
	if err := f.SetSheetRow(rosterSheet, "A2", &rosterHeader); err != nil {
		return nil, errors.Wrap(err, "writing roster header")
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, errors.Wrap(err, "creating header style")
	}
	if err = f.SetRowStyle(rosterSheet, 1, 2, bold); err != nil {
		return nil, errors.Wrap(err, "styling header")
	}

	for i, s := range students {
		lastLogin := ""
		if s.LastLogin.Valid {
			lastLogin = s.LastLogin.Time.UTC().Format(time.RFC3339)
		}
		row := []interface{}{i + 1, s.ID, s.FirstName, s.LastName, s.Email, len(s.EnrolledCourseIDs), lastLogin}
		cell, err := excelize.CoordinatesToCellName(1, i+3)
		if err != nil {
			return nil, err
		}
		if err = f.SetSheetRow(rosterSheet, cell, &row); err != nil {
			return nil, errors.Wrapf(err, "writing roster row %d", i+1)
		}
	}
	if err = f.SetColWidth(rosterSheet, "B", "E", 28); err != nil {
		return nil, errors.Wrap(err, "sizing columns")
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, errors.Wrap(err, "writing roster")
	}
	return buf, nil
}
