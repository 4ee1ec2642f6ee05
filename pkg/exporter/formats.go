package exporter

import (
	"encoding/csv"
	"encoding/xml"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/ajitpratap0/syncforge/pkg/errors"
	"github.com/ajitpratap0/syncforge/pkg/json"
)

// serializer writes one record set in one format
type serializer func(w io.Writer, rows []map[string]interface{}) error

var serializers = map[string]serializer{
	"json":  writeJSON,
	"jsonl": writeJSONL,
	"csv":   writeCSV,
	"coco":  writeCOCO,
	"voc":   writeVOC,
}

// extensionFor maps a format to its file extension
func extensionFor(format string) string {
	switch format {
	case "voc":
		return "xml"
	case "coco":
		return "json"
	default:
		return format
	}
}

func writeJSON(w io.Writer, rows []map[string]interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if rows == nil {
		rows = []map[string]interface{}{}
	}
	if err := enc.Encode(rows); err != nil {
		return errors.Wrap(err, errors.ErrorTypeData, "JSON serialization failed")
	}
	return nil
}

func writeJSONL(w io.Writer, rows []map[string]interface{}) error {
	enc := json.NewEncoder(w)
	for _, row := range rows {
		if err := enc.Encode(row); err != nil {
			return errors.Wrap(err, errors.ErrorTypeData, "JSONL serialization failed")
		}
	}
	return nil
}

// writeCSV emits a header of the sorted union of keys, then one line per
// record
func writeCSV(w io.Writer, rows []map[string]interface{}) error {
	keys := make(map[string]struct{})
	for _, row := range rows {
		for k := range row {
			keys[k] = struct{}{}
		}
	}
	header := make([]string, 0, len(keys))
	for k := range keys {
		header = append(header, k)
	}
	sort.Strings(header)

	cw := csv.NewWriter(w)
	if len(header) > 0 {
		if err := cw.Write(header); err != nil {
			return errors.Wrap(err, errors.ErrorTypeData, "CSV serialization failed")
		}
	}
	line := make([]string, len(header))
	for _, row := range rows {
		for i, k := range header {
			if v, ok := row[k]; ok && v != nil {
				line[i] = fmt.Sprint(v)
			} else {
				line[i] = ""
			}
		}
		if err := cw.Write(line); err != nil {
			return errors.Wrap(err, errors.ErrorTypeData, "CSV serialization failed")
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeData, "CSV serialization failed")
	}
	return nil
}

// cocoDataset is the COCO-style annotation interchange schema
type cocoDataset struct {
	Info        cocoInfo         `json:"info"`
	Images      []cocoImage      `json:"images"`
	Annotations []cocoAnnotation `json:"annotations"`
	Categories  []cocoCategory   `json:"categories"`
}

type cocoInfo struct {
	Description string `json:"description"`
	DateCreated string `json:"date_created"`
}

type cocoImage struct {
	ID       int    `json:"id"`
	FileName string `json:"file_name"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
}

type cocoAnnotation struct {
	ID         int       `json:"id"`
	ImageID    int       `json:"image_id"`
	CategoryID int       `json:"category_id"`
	BBox       []float64 `json:"bbox"`
}

type cocoCategory struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// writeCOCO maps records onto the COCO image/annotation/category layout.
// A record's file_name, width, and height feed the image entry; its label
// becomes a category; its bbox becomes an annotation.
func writeCOCO(w io.Writer, rows []map[string]interface{}) error {
	dataset := cocoDataset{
		Info: cocoInfo{
			Description: "syncforge export",
			DateCreated: time.Now().UTC().Format(time.RFC3339),
		},
		Images:      []cocoImage{},
		Annotations: []cocoAnnotation{},
		Categories:  []cocoCategory{},
	}

	categoryIDs := make(map[string]int)
	annotationID := 1
	for i, row := range rows {
		imageID := i + 1
		dataset.Images = append(dataset.Images, cocoImage{
			ID:       imageID,
			FileName: stringField(row, "file_name"),
			Width:    intField(row, "width"),
			Height:   intField(row, "height"),
		})

		label := stringField(row, "label")
		if label == "" {
			continue
		}
		catID, ok := categoryIDs[label]
		if !ok {
			catID = len(categoryIDs) + 1
			categoryIDs[label] = catID
			dataset.Categories = append(dataset.Categories, cocoCategory{ID: catID, Name: label})
		}
		dataset.Annotations = append(dataset.Annotations, cocoAnnotation{
			ID:         annotationID,
			ImageID:    imageID,
			CategoryID: catID,
			BBox:       bboxField(row),
		})
		annotationID++
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(dataset); err != nil {
		return errors.Wrap(err, errors.ErrorTypeData, "COCO serialization failed")
	}
	return nil
}

// vocAnnotations is the Pascal-VOC-style interchange schema, one
// annotation element per record under a single document root
type vocAnnotations struct {
	XMLName     xml.Name        `xml:"annotations"`
	Annotations []vocAnnotation `xml:"annotation"`
}

type vocAnnotation struct {
	Filename string      `xml:"filename"`
	Size     vocSize     `xml:"size"`
	Objects  []vocObject `xml:"object"`
}

type vocSize struct {
	Width  int `xml:"width"`
	Height int `xml:"height"`
}

type vocObject struct {
	Name   string  `xml:"name"`
	BndBox vocBBox `xml:"bndbox"`
}

type vocBBox struct {
	XMin int `xml:"xmin"`
	YMin int `xml:"ymin"`
	XMax int `xml:"xmax"`
	YMax int `xml:"ymax"`
}

func writeVOC(w io.Writer, rows []map[string]interface{}) error {
	doc := vocAnnotations{Annotations: make([]vocAnnotation, 0, len(rows))}
	for _, row := range rows {
		ann := vocAnnotation{
			Filename: stringField(row, "file_name"),
			Size: vocSize{
				Width:  intField(row, "width"),
				Height: intField(row, "height"),
			},
		}
		if label := stringField(row, "label"); label != "" {
			bbox := bboxField(row)
			obj := vocObject{Name: label}
			if len(bbox) == 4 {
				obj.BndBox = vocBBox{
					XMin: int(bbox[0]),
					YMin: int(bbox[1]),
					XMax: int(bbox[0] + bbox[2]),
					YMax: int(bbox[1] + bbox[3]),
				}
			}
			ann.Objects = append(ann.Objects, obj)
		}
		doc.Annotations = append(doc.Annotations, ann)
	}

	if _, err := io.WriteString(w, xml.Header); err != nil {
		return errors.Wrap(err, errors.ErrorTypeData, "VOC serialization failed")
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return errors.Wrap(err, errors.ErrorTypeData, "VOC serialization failed")
	}
	if err := enc.Flush(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeData, "VOC serialization failed")
	}
	return nil
}

func stringField(row map[string]interface{}, key string) string {
	if v, ok := row[key].(string); ok {
		return v
	}
	return ""
}

func intField(row map[string]interface{}, key string) int {
	switch v := row[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

func bboxField(row map[string]interface{}) []float64 {
	raw, ok := row["bbox"].([]interface{})
	if !ok {
		return nil
	}
	out := make([]float64, 0, len(raw))
	for _, v := range raw {
		switch n := v.(type) {
		case float64:
			out = append(out, n)
		case int:
			out = append(out, float64(n))
		}
	}
	return out
}
