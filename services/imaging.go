package services

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/go-chi/chi/v5"
	"github.com/maternify/backend/biometry"
	"github.com/maternify/backend/inference"
)

const (
	classifierSize  = 224
	segmenterSize   = 256
	enhancerSize    = 224
	fetalBrainClass = "Fetal brain"
)

var (
	mainClassNames  = []string{"Fetal abdomen", "Fetal brain", "Fetal femur", "Fetal thorax", "Maternal cervix", "Other"}
	brainClassNames = []string{"Not A Brain", "Other", "Trans-cerebellum", "Trans-thalamic", "Trans-ventricular"}
	healthFeatures  = []string{"age", "systolic_bp", "diastolic_bp", "bs", "bt", "heart_rate"}
)

// ImagingEndpoints serve the ultrasound and vitals models behind the
// inference server.
type ImagingEndpoints struct {
	models *inference.Client
}

type Classification struct {
	MainClass  string                       `json:"mainClass"`
	Accuracy   float64                      `json:"accuracy"`
	AllClasses []inference.ClassProbability `json:"allClasses"`
}

type ClassificationResponse struct {
	MainClassification  Classification  `json:"mainClassification"`
	BrainClassification *Classification `json:"brainClassification"`
}

type CircumferenceResponse struct {
	Circumference float64          `json:"circumference"`
	PixelValue    float64          `json:"pixelValue"`
	Ellipse       biometry.Ellipse `json:"ellipse"`
	MaskImage     string           `json:"maskImage"`
}

func NewImagingEndpoints(models *inference.Client) *ImagingEndpoints {
	return &ImagingEndpoints{models: models}
}

func (e *ImagingEndpoints) RegisterRoutes(r chi.Router) {
	r.Post("/classify-ultrasound", e.ClassifyHandler)
	r.Post("/calculate-circumference", e.CircumferenceHandler)
	r.Post("/enhance-image", e.EnhanceHandler)
	r.Post("/health-tracking", e.HealthHandler)
}

// uploadedImage reads and decodes the "image" field. It writes the error
// response itself and returns nil in that case.
func uploadedImage(w http.ResponseWriter, r *http.Request) image.Image {
	data, _, err := readUpload(r, "image")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return nil
	}
	if data == nil {
		writeError(w, http.StatusBadRequest, "No image provided")
		return nil
	}

	img, err := inference.DecodeImage(data)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return nil
	}
	return img
}

func encodePNG(img image.Image) (string, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return "", fmt.Errorf("failed to encode png: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

func classification(ranked []inference.ClassProbability) Classification {
	return Classification{
		MainClass:  ranked[0].Name,
		Accuracy:   ranked[0].Probability,
		AllClasses: ranked,
	}
}

// ClassifyHandler predicts the fetal plane, plus the brain plane when the
// image shows a fetal brain.
func (e *ImagingEndpoints) ClassifyHandler(w http.ResponseWriter, r *http.Request) {
	img := uploadedImage(w, r)
	if img == nil {
		return
	}

	pixels := inference.Normalize(inference.GrayscalePixels(img, classifierSize), 0.5, 0.5)
	outputs, err := e.models.Infer(r.Context(), inference.ModelFetalPlanes,
		inference.FP32("input", []int{1, 1, classifierSize, classifierSize}, pixels))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if len(outputs) < 2 {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("expected 2 outputs, got %d", len(outputs)))
		return
	}

	main, err := inference.Rank(mainClassNames, outputs[0].Data)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	brain, err := inference.Rank(brainClassNames, outputs[1].Data)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := ClassificationResponse{MainClassification: classification(main)}
	if resp.MainClassification.MainClass == fetalBrainClass {
		b := classification(brain)
		resp.BrainClassification = &b
	}
	writeJSON(w, http.StatusOK, resp)
}

// CircumferenceHandler segments the fetal head and measures it.
func (e *ImagingEndpoints) CircumferenceHandler(w http.ResponseWriter, r *http.Request) {
	img := uploadedImage(w, r)
	if img == nil {
		return
	}

	pixels := inference.GrayscalePixels(img, segmenterSize)
	outputs, err := e.models.Infer(r.Context(), inference.ModelHeadCircumference,
		inference.FP32("input", []int{1, 1, segmenterSize, segmenterSize}, pixels))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if len(outputs) == 0 {
		writeError(w, http.StatusInternalServerError, "segmentation returned no mask")
		return
	}

	out := outputs[0]
	height, width := segmenterSize, segmenterSize
	if n := len(out.Shape); n >= 2 {
		height, width = out.Shape[n-2], out.Shape[n-1]
	}
	if len(out.Data) != width*height {
		writeError(w, http.StatusInternalServerError, "mask size does not match its shape")
		return
	}

	mask := inference.ToGray8(out.Data, width, height)
	m, err := biometry.Measure(mask)
	if err != nil {
		slog.Warn("Head circumference measurement failed", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	encoded, err := encodePNG(mask)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, CircumferenceResponse{
		Circumference: m.Circumference,
		PixelValue:    m.PixelValue,
		Ellipse:       m.Ellipse,
		MaskImage:     encoded,
	})
}

// EnhanceHandler runs the denoising model on a 224x224 grayscale copy.
func (e *ImagingEndpoints) EnhanceHandler(w http.ResponseWriter, r *http.Request) {
	img := uploadedImage(w, r)
	if img == nil {
		return
	}

	pixels := inference.GrayscalePixels(img, enhancerSize)
	outputs, err := e.models.Infer(r.Context(), inference.ModelImageEnhancement,
		inference.FP32("input", []int{1, enhancerSize, enhancerSize, 1}, pixels))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if len(outputs) == 0 || len(outputs[0].Data) != enhancerSize*enhancerSize {
		writeError(w, http.StatusInternalServerError, "enhancement returned an unexpected image")
		return
	}

	encoded, err := encodePNG(inference.ToGray8(outputs[0].Data, enhancerSize, enhancerSize))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"enhancedImage": encoded})
}

// riskLabel maps the classifier output onto its label.
func riskLabel(class int) string {
	switch class {
	case 1:
		return "Low Risk"
	case 0:
		return "High Risk"
	default:
		return "Medium Risk"
	}
}

// healthVitals reads the six vitals from a JSON body or a form.
func healthVitals(r *http.Request) ([]float32, error) {
	values := map[string]string{}

	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		var body map[string]json.RawMessage
		if err := decodeJSON(r, &body); err != nil {
			return nil, fmt.Errorf("invalid request body")
		}
		for k, v := range body {
			values[k] = strings.Trim(string(v), `"`)
		}
	} else {
		if err := r.ParseForm(); err != nil {
			return nil, fmt.Errorf("invalid form")
		}
		for _, f := range healthFeatures {
			values[f] = r.FormValue(f)
		}
	}

	features := make([]float32, len(healthFeatures))
	for i, f := range healthFeatures {
		v, err := strconv.ParseFloat(strings.TrimSpace(values[f]), 64)
		if err != nil {
			return nil, fmt.Errorf("missing or invalid field: %s", f)
		}
		features[i] = float32(v)
	}
	return features, nil
}

func (e *ImagingEndpoints) HealthHandler(w http.ResponseWriter, r *http.Request) {
	features, err := healthVitals(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	outputs, err := e.models.Infer(r.Context(), inference.ModelHealthRisk,
		inference.FP32("input", []int{1, len(features)}, features))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if len(outputs) == 0 || len(outputs[0].Data) == 0 {
		writeError(w, http.StatusInternalServerError, "health model returned no prediction")
		return
	}

	class := int(math.Round(float64(outputs[0].Data[0])))
	writeJSON(w, http.StatusOK, map[string]string{"risk_level": riskLabel(class)})
}
