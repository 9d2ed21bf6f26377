package generation

import (
	"bytes"
	"fmt"
	"mime/multipart"
	"net/textproto"
	"strconv"

	"github.com/bytedance/sonic"

	"pbn-studio/internal/model"
)

// Request is one generation attempt as the UI sees it. Image is the raw
// source file; it is validated and normalized before upload.
type Request struct {
	Image       []byte
	Palette     []model.PaletteColor
	Detail      int
	ShowNumbers bool
	FillRegions bool
}

const (
	msgNoImage        = "Please capture or choose an image first."
	msgPaletteTooThin = "Please add at least %d color(s) to the palette."
	msgDetailRange    = "Detail must be between %d and %d."
)

// validate checks everything that can be checked without the network. The
// first failing rule wins; image is checked before palette before detail.
func (p Profile) validate(req Request) *Error {
	if len(req.Image) == 0 {
		return validationError(msgNoImage, nil)
	}
	if len(req.Palette) < p.MinPaletteSize {
		return validationError(fmt.Sprintf(msgPaletteTooThin, p.MinPaletteSize), nil)
	}
	if !p.DetailInRange(req.Detail) {
		return validationError(fmt.Sprintf(msgDetailRange, p.DetailMin, p.DetailMax), nil)
	}
	return nil
}

// wireColor is the palette entry shape the service expects.
type wireColor struct {
	ID   string `json:"id"`
	RGB  [3]int `json:"rgb"`
	Note string `json:"note"`
}

func encodePalette(colors []model.PaletteColor) ([]byte, error) {
	out := make([]wireColor, 0, len(colors))
	for _, c := range colors {
		out = append(out, wireColor{
			ID:   c.ID,
			RGB:  [3]int{int(c.RGB.R), int(c.RGB.G), int(c.RGB.B)},
			Note: c.Note,
		})
	}
	return sonic.Marshal(out)
}

// multipartBody assembles the upload form. file must already be normalized.
func multipartBody(file []byte, fileMIME string, palette []model.PaletteColor, fields map[string]string) (*bytes.Buffer, string, error) {
	paletteJSON, err := encodePalette(palette)
	if err != nil {
		return nil, "", fmt.Errorf("encode palette: %w", err)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="image.jpg"`)
	h.Set("Content-Type", fileMIME)
	fw, err := mw.CreatePart(h)
	if err != nil {
		return nil, "", err
	}
	if _, err := fw.Write(file); err != nil {
		return nil, "", err
	}

	if err := mw.WriteField("palette", string(paletteJSON)); err != nil {
		return nil, "", err
	}
	for _, k := range sortedKeys(fields) {
		if err := mw.WriteField(k, fields[k]); err != nil {
			return nil, "", err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return &body, mw.FormDataContentType(), nil
}

func (p Profile) formFields(req Request) map[string]string {
	fields := map[string]string{
		"threshold": strconv.Itoa(req.Detail),
	}
	if p.VectorOutputs {
		fields["show_numbers"] = strconv.FormatBool(req.ShowNumbers)
		fields["fill_regions"] = strconv.FormatBool(req.FillRegions)
	}
	return fields
}
