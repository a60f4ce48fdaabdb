package market

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/textproto"
	"strconv"
	"strings"
)

// MaxPostImages is how many photos one listing may carry.
const MaxPostImages = 5

// Form field names of a listing.
const (
	fieldTitle             = "title"
	fieldProductionYear    = "productionYear"
	fieldDescription       = "description"
	fieldMaterial          = "material"
	fieldFrame             = "frame"
	fieldWidth             = "width"
	fieldLength            = "length"
	fieldHeight            = "height"
	fieldSize              = "size"
	fieldPrice             = "price"
	fieldStatus            = "status"
	fieldStatusDescription = "statusDescription"
	fieldKeywords          = "keywords"
	fieldGenre             = "genre"
	fieldImage             = "image"
	fieldGuaranteeImage    = "guaranteeImage"
)

var ErrInvalidPost = errors.New("market: invalid artwork post")

// Validate applies the checks the post page makes before submitting.
func (p ArtworkPost) Validate() error {
	switch {
	case strings.TrimSpace(p.Title) == "":
		return fmt.Errorf("%w: title is required", ErrInvalidPost)
	case len(p.Images) == 0:
		return fmt.Errorf("%w: at least one image is required", ErrInvalidPost)
	case len(p.Images) > MaxPostImages:
		return fmt.Errorf("%w: at most %d images", ErrInvalidPost, MaxPostImages)
	case len(p.Keywords) == 0:
		return fmt.Errorf("%w: at least one keyword is required", ErrInvalidPost)
	case p.Genre == "":
		return fmt.Errorf("%w: genre is required", ErrInvalidPost)
	case len(p.GuaranteeImage.Data) == 0:
		return fmt.Errorf("%w: guarantee image is required", ErrInvalidPost)
	case p.Price < 0:
		return fmt.Errorf("%w: negative price", ErrInvalidPost)
	}
	return nil
}

// encode writes p as multipart/form-data and returns the body with its
// content type.
func (p ArtworkPost) encode() (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	fields := []struct{ name, value string }{
		{fieldTitle, p.Title},
		{fieldProductionYear, strconv.Itoa(p.ProductionYear)},
		{fieldDescription, p.Description},
		{fieldMaterial, p.Material},
		{fieldFrame, strconv.FormatBool(p.Frame)},
		{fieldWidth, formatFloat(p.Width)},
		{fieldLength, formatFloat(p.Length)},
		{fieldHeight, formatFloat(p.Height)},
		{fieldSize, p.Size},
		{fieldPrice, strconv.FormatInt(p.Price, 10)},
		{fieldStatus, p.Status},
		{fieldStatusDescription, p.StatusDescription},
		{fieldKeywords, strings.Join(p.Keywords, ",")},
		{fieldGenre, p.Genre},
	}
	for _, f := range fields {
		if err := w.WriteField(f.name, f.value); err != nil {
			return nil, "", err
		}
	}
	for _, img := range p.Images {
		if err := writeImage(w, fieldImage, img); err != nil {
			return nil, "", err
		}
	}
	if err := writeImage(w, fieldGuaranteeImage, p.GuaranteeImage); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

func writeImage(w *multipart.Writer, field string, img Image) error {
	name := img.Name
	if name == "" {
		name = field
	}
	ctype := img.ContentType
	if ctype == "" {
		ctype = "application/octet-stream"
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, field, name))
	h.Set("Content-Type", ctype)
	part, err := w.CreatePart(h)
	if err != nil {
		return err
	}
	_, err = part.Write(img.Data)
	return err
}

func formatFloat(f float64) string { return strconv.FormatFloat(f, 'f', -1, 64) }

// ReadArtworkPost decodes a parsed listing form. The result is validated.
func ReadArtworkPost(form *multipart.Form) (ArtworkPost, error) {
	if form == nil {
		return ArtworkPost{}, fmt.Errorf("%w: empty form", ErrInvalidPost)
	}
	get := func(name string) string {
		if v := form.Value[name]; len(v) > 0 {
			return v[0]
		}
		return ""
	}

	var (
		p   ArtworkPost
		err error
	)
	p.Title = get(fieldTitle)
	p.Description = get(fieldDescription)
	p.Material = get(fieldMaterial)
	p.Size = get(fieldSize)
	p.Status = get(fieldStatus)
	p.StatusDescription = get(fieldStatusDescription)
	p.Genre = get(fieldGenre)
	for _, k := range strings.Split(get(fieldKeywords), ",") {
		if k = strings.TrimSpace(k); k != "" {
			p.Keywords = append(p.Keywords, k)
		}
	}

	if v := get(fieldProductionYear); v != "" {
		if p.ProductionYear, err = strconv.Atoi(v); err != nil {
			return ArtworkPost{}, fmt.Errorf("%w: %s %q", ErrInvalidPost, fieldProductionYear, v)
		}
	}
	if v := get(fieldPrice); v != "" {
		if p.Price, err = strconv.ParseInt(v, 10, 64); err != nil {
			return ArtworkPost{}, fmt.Errorf("%w: %s %q", ErrInvalidPost, fieldPrice, v)
		}
	}
	if v := get(fieldFrame); v != "" {
		if p.Frame, err = strconv.ParseBool(v); err != nil {
			return ArtworkPost{}, fmt.Errorf("%w: %s %q", ErrInvalidPost, fieldFrame, v)
		}
	}
	for name, dst := range map[string]*float64{fieldWidth: &p.Width, fieldLength: &p.Length, fieldHeight: &p.Height} {
		v := get(name)
		if v == "" {
			continue
		}
		if *dst, err = strconv.ParseFloat(v, 64); err != nil {
			return ArtworkPost{}, fmt.Errorf("%w: %s %q", ErrInvalidPost, name, v)
		}
	}

	for _, fh := range form.File[fieldImage] {
		img, err := readImage(fh)
		if err != nil {
			return ArtworkPost{}, err
		}
		p.Images = append(p.Images, img)
	}
	if fhs := form.File[fieldGuaranteeImage]; len(fhs) > 0 {
		if p.GuaranteeImage, err = readImage(fhs[0]); err != nil {
			return ArtworkPost{}, err
		}
	}
	return p, p.Validate()
}

func readImage(fh *multipart.FileHeader) (Image, error) {
	f, err := fh.Open()
	if err != nil {
		return Image{}, fmt.Errorf("market: open %s: %w", fh.Filename, err)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return Image{}, fmt.Errorf("market: read %s: %w", fh.Filename, err)
	}
	return Image{Name: fh.Filename, ContentType: fh.Header.Get("Content-Type"), Data: data}, nil
}
