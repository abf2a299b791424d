package pointxgo

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/go-pdf/fpdf"
)

var statementCols = []struct {
	title string
	width float64
	align string
}{
	{"#", 20, "R"},
	{"Date", 55, "L"},
	{"Kind", 30, "L"},
	{"Amount", 40, "R"},
	{"Balance", 40, "R"},
}

// RenderStatement writes a PDF listing txs with a running balance. It refuses
// to render a history that does not replay to acct's balance.
func RenderStatement(w io.Writer, acct *Account, txs []Transaction) error {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetTitle(fmt.Sprintf("Point statement %d", acct.UserID), false)
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 16)
	pdf.CellFormat(0, 10, "Point statement", "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 11)
	pdf.CellFormat(0, 7, fmt.Sprintf("User: %d", acct.UserID), "", 1, "L", false, 0, "")
	pdf.CellFormat(0, 7, fmt.Sprintf("As of: %s", acct.UpdatedAt.UTC().Format(time.RFC3339)), "", 1, "L", false, 0, "")
	pdf.Ln(4)

	pdf.SetFont("Helvetica", "B", 10)
	pdf.SetFillColor(230, 230, 230)
	for _, c := range statementCols {
		pdf.CellFormat(c.width, 7, c.title, "1", 0, c.align, true, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Helvetica", "", 10)
	bal, err := replayEach(txs, func(tx Transaction, bal int64) {
		amount := strconv.FormatInt(tx.Amount, 10)
		if tx.Kind == KindDebit {
			amount = "-" + amount
		}
		row := []string{
			strconv.FormatInt(tx.ID, 10),
			tx.Timestamp.UTC().Format("2006-01-02 15:04:05"),
			string(tx.Kind),
			amount,
			strconv.FormatInt(bal, 10),
		}
		for i, c := range statementCols {
			pdf.CellFormat(c.width, 6, row[i], "1", 0, c.align, false, 0, "")
		}
		pdf.Ln(-1)
	})
	if err != nil {
		return err
	}
	if bal != acct.Balance {
		return fmt.Errorf("statement for user %d: history replays to %d, balance is %d", acct.UserID, bal, acct.Balance)
	}

	pdf.Ln(4)
	pdf.SetFont("Helvetica", "B", 11)
	pdf.CellFormat(0, 7, fmt.Sprintf("Closing balance: %d", acct.Balance), "", 1, "R", false, 0, "")
	return pdf.Output(w)
}
