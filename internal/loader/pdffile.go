package loader

import (
	"errors"
	"fmt"
	"image/png"
	"math"
	"os"

	"github.com/ledongthuc/pdf"
	"github.com/unidoc/unipdf/v3/common/license"
	pdfmodel "github.com/unidoc/unipdf/v3/model"
	"github.com/unidoc/unipdf/v3/render"
)

// SetPDFLicense installs a UniDoc metered key for page rendering. An empty
// key is a no-op.
func SetPDFLicense(key string) error {
	if key == "" {
		return nil
	}
	if err := license.SetMeteredKey(key); err != nil {
		return fmt.Errorf("pdf license: %w", err)
	}
	return nil
}

// pdfFile reads the text layer and image resources with ledongthuc/pdf,
// which needs no license. unipdf is opened on the first RenderPage only.
type pdfFile struct {
	path  string
	f     *os.File
	r     *pdf.Reader
	fonts map[string]*pdf.Font

	raster *pdfmodel.PdfReader
	rf     *os.File
}

// OpenPDF opens a PDF for text extraction. Encrypted files are tried with
// an empty user password.
func OpenPDF(path string) (PDFDocument, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		if errors.Is(err, pdf.ErrInvalidPassword) {
			return nil, errors.New("document is password protected")
		}
		return nil, err
	}
	return &pdfFile{path: path, f: f, r: r, fonts: make(map[string]*pdf.Font)}, nil
}

func (d *pdfFile) NumPages() int { return d.r.NumPage() }

func (d *pdfFile) page(n int) (pdf.Page, error) {
	p := d.r.Page(n)
	if p.V.IsNull() {
		return p, fmt.Errorf("page %d not found", n)
	}
	return p, nil
}

func (d *pdfFile) PageText(n int) (text string, err error) {
	// The content stream interpreter panics on some malformed operands.
	defer func() {
		if r := recover(); r != nil {
			text, err = "", fmt.Errorf("page %d: %v", n, r)
		}
	}()
	p, err := d.page(n)
	if err != nil {
		return "", err
	}
	for _, name := range p.Fonts() {
		if _, ok := d.fonts[name]; !ok {
			f := p.Font(name)
			d.fonts[name] = &f
		}
	}
	return p.GetPlainText(d.fonts)
}

func (d *pdfFile) PageHasImages(n int) (has bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			has, err = false, fmt.Errorf("page %d: %v", n, r)
		}
	}()
	p, err := d.page(n)
	if err != nil {
		return false, err
	}
	xobjects := p.Resources().Key("XObject")
	for _, name := range xobjects.Keys() {
		if xobjects.Key(name).Key("Subtype").Name() == "Image" {
			return true, nil
		}
	}
	return false, nil
}

func (d *pdfFile) rasterizer() (*pdfmodel.PdfReader, error) {
	if d.raster != nil {
		return d.raster, nil
	}
	f, err := os.Open(d.path)
	if err != nil {
		return nil, err
	}
	reader, err := pdfmodel.NewPdfReader(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	if enc, err := reader.IsEncrypted(); err == nil && enc {
		if ok, err := reader.Decrypt([]byte("")); err != nil || !ok {
			f.Close()
			return nil, errors.New("document is password protected")
		}
	}
	d.raster, d.rf = reader, f
	return reader, nil
}

func (d *pdfFile) RenderPage(n, dpi int, dst string) error {
	reader, err := d.rasterizer()
	if err != nil {
		return err
	}
	p, err := reader.GetPage(n)
	if err != nil {
		return err
	}
	box, err := p.GetMediaBox()
	if err != nil {
		return err
	}

	device := render.NewImageDevice()
	// Media box units are points (1/72 inch).
	device.OutputWidth = int(math.Round(box.Width() * float64(dpi) / 72))
	img, err := device.Render(p)
	if err != nil {
		return err
	}

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if err := png.Encode(out, img); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func (d *pdfFile) Close() error {
	var rerr error
	if d.rf != nil {
		rerr = d.rf.Close()
	}
	return errors.Join(d.f.Close(), rerr)
}
