package xlsx

import (
	"archive/zip"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/Act1nv3r/HUA/pkg/contract"
)

func writeBook(t *testing.T, path string, sheets map[string][][]any, order []string) {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	for i, name := range order {
		if i == 0 {
			require.NoError(t, f.SetSheetName("Sheet1", name))
		} else {
			_, err := f.NewSheet(name)
			require.NoError(t, err)
		}
		for r, row := range sheets[name] {
			cell, err := excelize.CoordinatesToCellName(1, r+1)
			require.NoError(t, err)
			require.NoError(t, f.SetSheetRow(name, cell, &row))
		}
	}
	require.NoError(t, f.SaveAs(path))
}

func collect(t *testing.T, r *Workbook, roots ...string) []contract.Sheet {
	t.Helper()
	var got []contract.Sheet
	err := r.Iterate(context.Background(), roots, func(sh contract.Sheet) error {
		got = append(got, sh)
		return nil
	})
	require.NoError(t, err)
	return got
}

func TestIterateSheetsSkipsSummary(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "backlog.xlsx")
	writeBook(t, p, map[string][][]any{
		contract.SummarySheet: {{"old summary"}},
		"Pagos":               {{"ID", "Título", "Descripción"}, {"HU-1", "Pago", "Como usuario"}},
		"Onboarding":          {{"ID", "Título", "Descripción"}, {1, "Alta", "Registro"}},
	}, []string{contract.SummarySheet, "Pagos", "Onboarding"})

	got := collect(t, New(nil), p)
	require.Len(t, got, 2)
	assert.Equal(t, "Pagos", got[0].Name)
	assert.Equal(t, contract.NormalizeFileID(p), got[0].Source)
	assert.Equal(t, "HU-1", got[0].Rows.Cell(1, 0))
	assert.Equal(t, "Onboarding", got[1].Name)
	assert.Equal(t, "1", got[1].Rows.Cell(1, 0))
}

func TestIterateSheetFilter(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "b.xlsx")
	writeBook(t, p, map[string][][]any{"A": {{"x"}}, "B": {{"y"}}}, []string{"A", "B"})
	got := collect(t, New(&Options{Sheet: "B"}), p)
	require.Len(t, got, 1)
	assert.Equal(t, "B", got[0].Name)
}

func TestIterateDirStableOrder(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".git"), 0o755))
	writeBook(t, filepath.Join(dir, "z.xlsx"), map[string][][]any{"Z": {{"z"}}}, []string{"Z"})
	writeBook(t, filepath.Join(dir, "a.xlsx"), map[string][][]any{"A": {{"a"}}}, []string{"A"})
	writeBook(t, filepath.Join(dir, "sub", "m.xlsx"), map[string][][]any{"M": {{"m"}}}, []string{"M"})
	writeBook(t, filepath.Join(dir, ".git", "x.xlsx"), map[string][][]any{"X": {{"x"}}}, []string{"X"})
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("skip"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "~$a.xlsx"), []byte("lock"), 0o644))

	got := collect(t, New(&Options{ExcludeDirNames: []string{".GIT"}}), dir)
	var names []string
	for _, sh := range got {
		names = append(names, sh.Name)
	}
	assert.Equal(t, []string{"M", "A", "Z"}, names)
}

func TestIterateRejectsBadInput(t *testing.T) {
	dir := t.TempDir()
	txt := filepath.Join(dir, "hu.csv")
	require.NoError(t, os.WriteFile(txt, []byte("a,b"), 0o644))
	err := New(nil).Iterate(context.Background(), []string{txt}, func(contract.Sheet) error { return nil })
	assert.ErrorIs(t, err, contract.ErrInvalidInput)

	big := filepath.Join(dir, "big.xlsx")
	writeBook(t, big, map[string][][]any{"S": {{"x"}}}, []string{"S"})
	err = New(&Options{MaxFileBytes: 10}).Iterate(context.Background(), []string{big}, func(contract.Sheet) error { return nil })
	assert.ErrorIs(t, err, contract.ErrInvalidInput)

	err = New(nil).Iterate(context.Background(), nil, func(contract.Sheet) error { return nil })
	assert.ErrorIs(t, err, contract.ErrInvalidInput)

	err = New(nil).Iterate(context.Background(), []string{"-", big}, func(contract.Sheet) error { return nil })
	assert.Error(t, err)
}

func TestIterateCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := New(nil).Iterate(ctx, []string{"x.xlsx"}, func(contract.Sheet) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}

// writeDoc 写一个只含一张表的最小 .docx。
func writeDoc(t *testing.T, path string, rows [][]string) {
	t.Helper()
	body := "<w:tbl>"
	for _, r := range rows {
		body += "<w:tr>"
		for _, c := range r {
			body += "<w:tc><w:p><w:r><w:t>" + c + "</w:t></w:r></w:p></w:tc>"
		}
		body += "</w:tr>"
	}
	body += "</w:tbl>"
	f, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	w, err := zw.Create("word/document.xml")
	require.NoError(t, err)
	_, err = w.Write([]byte(`<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>` + body + `</w:body></w:document>`))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
}

func TestIterateDocxAsSheet(t *testing.T) {
	dir := t.TempDir()
	writeBook(t, filepath.Join(dir, "a.xlsx"), map[string][][]any{"A": {{"a"}}}, []string{"A"})
	writeDoc(t, filepath.Join(dir, "Requerimientos.docx"), [][]string{
		{"ID", "Título", "Descripción"},
		{"HU-001", "Alta", "Como cliente quiero registrarme"},
	})
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notas.txt"), []byte("x"), 0o644))

	got := collect(t, New(nil), dir)
	require.Len(t, got, 2)
	assert.Equal(t, "Requerimientos", got[0].Name)
	assert.Equal(t, contract.NormalizeFileID(filepath.Join(dir, "Requerimientos.docx")), got[0].Source)
	assert.Equal(t, "ID", got[0].Rows.Cell(0, 0))
	assert.Equal(t, "HU-001", got[0].Rows.Cell(1, 0))
	assert.Equal(t, "A", got[1].Name)

	// --sheet 以文件名（去扩展名）过滤文档
	got = collect(t, New(&Options{Sheet: "A"}), dir)
	require.Len(t, got, 1)
	assert.Equal(t, "A", got[0].Name)

	assert.True(t, IsWorkbookName("x.DOCX"))
	assert.False(t, IsWorkbookName("x.doc"))
}
