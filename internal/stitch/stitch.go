// Package stitch appends signature certificate pages to a decrypted PDF,
// producing a self-contained artifact for download. The stitched output is
// never cached or treated as the canonical document.
package stitch

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"io"
	"time"

	"github.com/go-pdf/fpdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	pdfmodel "github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/roomvault/roomvault/internal/errs"
	"github.com/roomvault/roomvault/internal/model"
)

const pdfMagic = "%PDF-"

// sigLineWidth is the number of hex characters per rendered signature line.
const sigLineWidth = 64

// Stitch returns the document with one certificate page appended per
// completed signature (in input order) and, when more than one signer has
// signed, a trailing summary page. Pending signers have nothing to certify
// and are skipped. Non-PDF input fails with errs.ErrUnsupportedFormat and
// the caller falls back to offering the unmodified original.
//
// The result is deterministic for identical inputs: all embedded timestamps
// come from the signers' recorded SignedAt, never from the wall clock.
func Stitch(plaintext []byte, signers []model.SignerRecord, docName string) ([]byte, error) {
	if !bytes.HasPrefix(plaintext, []byte(pdfMagic)) {
		return nil, fmt.Errorf("%w: not a PDF", errs.ErrUnsupportedFormat)
	}
	conf := pdfmodel.NewDefaultConfiguration()
	if _, err := api.PageCount(bytes.NewReader(plaintext), conf); err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrUnsupportedFormat, err)
	}
	signed := signedOnly(signers)
	if len(signed) == 0 {
		return append([]byte(nil), plaintext...), nil
	}

	certs, err := renderCertificatePages(signed, docName)
	if err != nil {
		return nil, err
	}

	var out bytes.Buffer
	readers := []io.ReadSeeker{bytes.NewReader(plaintext), bytes.NewReader(certs)}
	if err := api.MergeRaw(readers, &out, false, conf); err != nil {
		return nil, fmt.Errorf("merge certificate pages: %w", err)
	}
	return out.Bytes(), nil
}

// PageCount reports the number of pages in a PDF. Non-PDF input maps to
// errs.ErrUnsupportedFormat.
func PageCount(b []byte) (int, error) {
	if !bytes.HasPrefix(b, []byte(pdfMagic)) {
		return 0, fmt.Errorf("%w: not a PDF", errs.ErrUnsupportedFormat)
	}
	n, err := api.PageCount(bytes.NewReader(b), pdfmodel.NewDefaultConfiguration())
	if err != nil {
		return 0, fmt.Errorf("%w: %v", errs.ErrUnsupportedFormat, err)
	}
	return n, nil
}

func signedOnly(signers []model.SignerRecord) []model.SignerRecord {
	out := make([]model.SignerRecord, 0, len(signers))
	for _, s := range signers {
		if s.Signed {
			out = append(out, s)
		}
	}
	return out
}

func renderCertificatePages(signers []model.SignerRecord, docName string) ([]byte, error) {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetCreationDate(latestSignedAt(signers))

	for _, s := range signers {
		certificatePage(pdf, s, docName)
	}
	if len(signers) > 1 {
		summaryPage(pdf, signers, docName)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("render certificate pages: %w", err)
	}
	return buf.Bytes(), nil
}

func certificatePage(pdf *fpdf.Fpdf, s model.SignerRecord, docName string) {
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 18)
	pdf.Cell(0, 12, "Signature Certificate")
	pdf.Ln(16)

	pdf.SetFont("Helvetica", "", 11)
	pdf.Cell(0, 7, "Document: "+docName)
	pdf.Ln(8)
	pdf.Cell(0, 7, "Signer: "+s.Email)
	pdf.Ln(8)
	pdf.Cell(0, 7, "Role: "+s.Role)
	pdf.Ln(8)
	pdf.Cell(0, 7, "Signed at: "+s.SignedAt.UTC().Format(time.RFC3339))
	pdf.Ln(12)

	pdf.SetFont("Helvetica", "B", 11)
	pdf.Cell(0, 7, "Signature")
	pdf.Ln(8)
	pdf.SetFont("Courier", "", 9)
	for _, line := range signatureLines(s.Signature) {
		pdf.Cell(0, 5, line)
		pdf.Ln(5)
	}
}

func summaryPage(pdf *fpdf.Fpdf, signers []model.SignerRecord, docName string) {
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 18)
	pdf.Cell(0, 12, "Signature Summary")
	pdf.Ln(16)

	pdf.SetFont("Helvetica", "", 11)
	pdf.Cell(0, 7, "Document: "+docName)
	pdf.Ln(12)

	const (
		colSigner = 70.0
		colRole   = 50.0
		colDate   = 60.0
		rowH      = 8.0
	)
	pdf.SetFont("Helvetica", "B", 10)
	pdf.CellFormat(colSigner, rowH, "Signer", "1", 0, "L", false, 0, "")
	pdf.CellFormat(colRole, rowH, "Role", "1", 0, "L", false, 0, "")
	pdf.CellFormat(colDate, rowH, "Date", "1", 1, "L", false, 0, "")

	pdf.SetFont("Helvetica", "", 10)
	for _, s := range signers {
		pdf.CellFormat(colSigner, rowH, s.Email, "1", 0, "L", false, 0, "")
		pdf.CellFormat(colRole, rowH, s.Role, "1", 0, "L", false, 0, "")
		pdf.CellFormat(colDate, rowH, s.SignedAt.UTC().Format("2006-01-02"), "1", 1, "L", false, 0, "")
	}
}

// signatureLines renders the signature as fixed-width hex lines for display.
func signatureLines(sig []byte) []string {
	h := hex.EncodeToString(sig)
	if h == "" {
		return []string{"(no signature recorded)"}
	}
	var lines []string
	for len(h) > sigLineWidth {
		lines = append(lines, h[:sigLineWidth])
		h = h[sigLineWidth:]
	}
	return append(lines, h)
}

func latestSignedAt(signers []model.SignerRecord) time.Time {
	var latest time.Time
	for _, s := range signers {
		if s.SignedAt.After(latest) {
			latest = s.SignedAt
		}
	}
	return latest
}
