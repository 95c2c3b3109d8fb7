// Package report renders assessment and student reports as PDF.
package report

import (
	"bytes"
	"fmt"
	"strconv"
	"time"

	"github.com/go-pdf/fpdf"

	"github.com/psique-app/platform/internal/assessment"
	"github.com/psique-app/platform/internal/student"
)

const (
	pageMargin  = 15.0
	lineHeight  = 6.0
	labelWidth  = 70.0
	dateLayout  = "02/01/2006"
	stampLayout = "02/01/2006 15:04"
)

// document wraps fpdf with the layout shared by both reports.
type document struct {
	pdf *fpdf.Fpdf
	tr  func(string) string
}

func newDocument(title string, generatedAt time.Time) *document {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(pageMargin, pageMargin, pageMargin)
	pdf.SetAutoPageBreak(true, pageMargin+5)
	pdf.SetTitle(title, true)
	pdf.SetAuthor("Psique", true)
	pdf.SetCreationDate(generatedAt)
	pdf.AliasNbPages("")

	d := &document{pdf: pdf, tr: pdf.UnicodeTranslatorFromDescriptor("")}

	pdf.SetFooterFunc(func() {
		pdf.SetY(-15)
		pdf.SetFont("Helvetica", "I", 8)
		pdf.SetTextColor(120, 120, 120)
		footer := fmt.Sprintf("Generado el %s - Página %d/{nb}", generatedAt.Format(stampLayout), pdf.PageNo())
		pdf.CellFormat(0, 10, d.tr(footer), "", 0, "C", false, 0, "")
	})

	pdf.AddPage()
	pdf.SetFont("Helvetica", "B", 16)
	pdf.SetTextColor(33, 37, 41)
	pdf.CellFormat(0, 10, d.tr(title), "", 1, "C", false, 0, "")
	pdf.Ln(4)
	return d
}

func (d *document) section(title string) {
	d.pdf.Ln(3)
	d.pdf.SetFont("Helvetica", "B", 12)
	d.pdf.SetFillColor(230, 236, 245)
	d.pdf.CellFormat(0, 8, d.tr(title), "", 1, "L", true, 0, "")
	d.pdf.Ln(1)
}

func (d *document) field(label, value string) {
	if value == "" {
		value = "-"
	}
	d.pdf.SetFont("Helvetica", "B", 10)
	d.pdf.CellFormat(labelWidth, lineHeight, d.tr(label+":"), "", 0, "L", false, 0, "")
	d.pdf.SetFont("Helvetica", "", 10)
	d.pdf.MultiCell(0, lineHeight, d.tr(value), "", "L", false)
}

func (d *document) paragraph(text string) {
	if text == "" {
		text = "Sin registros."
	}
	d.pdf.SetFont("Helvetica", "", 10)
	d.pdf.MultiCell(0, lineHeight, d.tr(text), "", "L", false)
}

func (d *document) table(headers []string, widths []float64, rows [][]string) {
	d.pdf.SetFont("Helvetica", "B", 10)
	d.pdf.SetFillColor(52, 73, 94)
	d.pdf.SetTextColor(255, 255, 255)
	for i, h := range headers {
		d.pdf.CellFormat(widths[i], 7, d.tr(h), "1", 0, "C", true, 0, "")
	}
	d.pdf.Ln(-1)

	d.pdf.SetFont("Helvetica", "", 10)
	d.pdf.SetTextColor(33, 37, 41)
	for _, row := range rows {
		for i, cell := range row {
			d.pdf.CellFormat(widths[i], 7, d.tr(cell), "1", 0, "C", false, 0, "")
		}
		d.pdf.Ln(-1)
	}
}

func (d *document) bytes() ([]byte, error) {
	var buf bytes.Buffer
	if err := d.pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	return buf.Bytes(), nil
}

func yesNo(q assessment.Question) string {
	switch {
	case !q.Answered():
		return "Sin respuesta"
	case q.IsPresent():
		return "Sí"
	default:
		return "No"
	}
}

func withDescription(q assessment.Question) string {
	if q.IsPresent() && q.Description != "" {
		return yesNo(q) + " - " + q.Description
	}
	return yesNo(q)
}

func optionalInt(v *int) string {
	if v == nil {
		return "-"
	}
	return strconv.Itoa(*v)
}

// AssessmentPDF renders a single assessment. s may be nil when the student
// record is no longer active.
func AssessmentPDF(a *assessment.Assessment, s *student.Student, generatedAt time.Time) ([]byte, error) {
	d := newDocument("Reporte de Evaluación de Riesgo Suicida", generatedAt)

	d.section("Información General")
	d.field("Estudiante", a.StudentName)
	if s != nil {
		d.field("Edad", strconv.Itoa(s.Age))
		d.field("Carrera", s.Career)
		d.field("Nivel", s.Level)
	}
	d.field("Psicólogo", a.PsychologistName)
	d.field("Fecha de evaluación", a.Date.Format(dateLayout))
	d.field("Riesgo de ideación", string(a.IdeationRiskLevel))
	d.field("Riesgo de conducta", string(a.BehaviorRiskLevel))

	d.section("Ideación Suicida")
	d.field("Deseo de estar muerto", withDescription(a.DeathWish))
	d.field("Pensamientos suicidas activos no específicos", withDescription(a.NonSpecificActiveSuicidalThoughts))
	if a.ShowsAdditionalIdeation() {
		for _, item := range []struct {
			label string
			q     assessment.IdeationQuestion
		}{
			{"Ideación activa con métodos", a.ActiveSuicidalIdeationWithMethods},
			{"Ideación activa con intención", a.ActiveSuicidalIdeationWithIntent},
			{"Ideación activa con plan", a.ActiveSuicidalIdeationWithPlan},
		} {
			value := withDescription(item.q.Question)
			if item.q.Frequency != nil {
				value += fmt.Sprintf(" (frecuencia: %d)", *item.q.Frequency)
			}
			d.field(item.label, value)
		}
	}

	d.section("Intensidad de la Ideación")
	intensity := a.IdeationIntensity
	ideationType := "-"
	if intensity.MostSeriousIdeationType > 0 {
		ideationType = strconv.Itoa(intensity.MostSeriousIdeationType)
	}
	d.field("Tipo de ideación más grave", ideationType)
	d.field("Descripción", intensity.MostSeriousIdeationDescription)
	frequency := intensity.FrequencyLabel
	if frequency == "" {
		frequency = optionalInt(intensity.Frequency)
	}
	d.field("Frecuencia", frequency)

	d.section("Conducta Suicida")
	for _, item := range []struct {
		label string
		q     assessment.BehaviorQuestion
	}{
		{"Intento real", a.ActualAttempt},
		{"Intento interrumpido", a.InterruptedAttempt},
		{"Intento abortado", a.AbortedAttempt},
		{"Actos preparatorios", a.PreparatoryActs},
	} {
		value := withDescription(item.q.Question)
		if item.q.IsPresent() && item.q.TotalAttempts != nil {
			value += fmt.Sprintf(" (total: %d)", *item.q.TotalAttempts)
		}
		d.field(item.label, value)
	}
	completed := "No"
	if a.CompletedSuicide {
		completed = "Sí"
	}
	d.field("Suicidio consumado", completed)

	d.section("Letalidad")
	if a.MostLethalAttemptDate != nil {
		d.field("Fecha del intento más letal", a.MostLethalAttemptDate.Format(dateLayout))
	}
	d.field("Grado de letalidad", strconv.Itoa(a.LethalityDegree))
	d.field("Letalidad potencial", optionalInt(a.PotentialLethality))

	d.section("Observaciones")
	d.paragraph(a.Observations)

	d.section("Conclusiones")
	d.paragraph(a.FinalRemarks)

	return d.bytes()
}

// StudentPDF renders a student's record with their assessment history.
func StudentPDF(s *student.Student, history []assessment.Assessment, generatedAt time.Time) ([]byte, error) {
	d := newDocument("Reporte del Estudiante", generatedAt)

	d.section("Datos Personales")
	d.field("Nombre", s.FullName())
	d.field("Edad", strconv.Itoa(s.Age))
	d.field("Género", string(s.Gender))
	d.field("Correo", s.Email)
	d.field("Teléfono", s.Phone)
	d.field("Ciudad", s.City)

	d.section("Datos Académicos")
	d.field("Carrera", s.Career)
	d.field("Nivel", s.Level)
	d.field("Psicólogo asignado", s.AssignedPsychologistName)

	d.section("Datos Socioeconómicos")
	d.field("Situación laboral", string(s.EmploymentStatus))
	d.field("Ingresos", strconv.FormatFloat(s.Income, 'f', 2, 64))

	d.section("Notas Clínicas")
	if len(s.ClinicalNotes) == 0 {
		d.paragraph("")
	}
	for _, n := range s.ClinicalNotes {
		d.pdf.SetFont("Helvetica", "B", 9)
		header := n.CreatedAt.Format(stampLayout)
		if n.CreatedByName != "" {
			header += " - " + n.CreatedByName
		}
		d.pdf.CellFormat(0, 5, d.tr(header), "", 1, "L", false, 0, "")
		d.paragraph(n.Note)
		d.pdf.Ln(1)
	}

	d.section("Historial de Evaluaciones")
	if len(history) == 0 {
		d.paragraph("")
	} else {
		rows := make([][]string, 0, len(history))
		for _, a := range history {
			rows = append(rows, []string{a.Date.Format(dateLayout), string(a.IdeationRiskLevel), string(a.BehaviorRiskLevel)})
		}
		d.table([]string{"Fecha", "Riesgo de ideación", "Riesgo de conducta"}, []float64{50, 65, 65}, rows)
	}

	return d.bytes()
}
