package services

import (
	"bytes"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/maternify/backend/inference"
)

// fakeModelServer answers KServe v2 infer calls with canned outputs per model.
func fakeModelServer(t *testing.T, outputs map[string][]inference.Tensor) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		model := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/v2/models/"), "/infer")
		out, ok := outputs[model]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			json.NewEncoder(w).Encode(map[string]string{"error": "unknown model " + model})
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"model_name": model, "outputs": out})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func diskMask(size int, radius float64) []float32 {
	data := make([]float32, size*size)
	c := float64(size) / 2
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			dx, dy := float64(x)-c, float64(y)-c
			if dx*dx+dy*dy <= radius*radius {
				data[y*size+x] = 1
			}
		}
	}
	return data
}

func imageUpload(t *testing.T, target string) *http.Request {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 32, 32))
	for i := range img.Pix {
		img.Pix[i] = uint8(i % 256)
	}
	img.Set(0, 0, color.Gray{Y: 255})

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("image", "scan.png")
	if err != nil {
		t.Fatal(err)
	}
	if err := png.Encode(part, img); err != nil {
		t.Fatal(err)
	}
	mw.Close()

	req := httptest.NewRequest("POST", target, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func newImagingRouter(t *testing.T) *chi.Mux {
	t.Helper()
	enhanced := make([]float32, enhancerSize*enhancerSize)
	for i := range enhanced {
		enhanced[i] = 0.5
	}

	srv := fakeModelServer(t, map[string][]inference.Tensor{
		inference.ModelFetalPlanes: {
			inference.FP32("main", []int{1, 6}, []float32{0.1, 4, 0.2, 0.3, 0.1, 0}),
			inference.FP32("brain", []int{1, 5}, []float32{0, 0, 3, 0, 0}),
		},
		inference.ModelHeadCircumference: {
			inference.FP32("mask", []int{1, 1, segmenterSize, segmenterSize}, diskMask(segmenterSize, 80)),
		},
		inference.ModelImageEnhancement: {
			inference.FP32("output", []int{1, enhancerSize, enhancerSize, 1}, enhanced),
		},
		inference.ModelHealthRisk: {
			inference.FP32("label", []int{1}, []float32{0}),
		},
	})

	r := chi.NewRouter()
	NewImagingEndpoints(inference.NewClient(srv.URL)).RegisterRoutes(r)
	return r
}

func TestClassifyUltrasound(t *testing.T) {
	r := newImagingRouter(t)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, imageUpload(t, "/classify-ultrasound"))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	var resp ClassificationResponse
	decodeBody(t, rec, &resp)
	if resp.MainClassification.MainClass != fetalBrainClass || len(resp.MainClassification.AllClasses) != 6 {
		t.Errorf("main = %+v", resp.MainClassification)
	}
	if resp.BrainClassification == nil || resp.BrainClassification.MainClass != "Trans-cerebellum" {
		t.Errorf("brain = %+v", resp.BrainClassification)
	}

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest("POST", "/classify-ultrasound", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing image status = %d", rec.Code)
	}
}

func TestCalculateCircumference(t *testing.T) {
	r := newImagingRouter(t)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, imageUpload(t, "/calculate-circumference"))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	var resp CircumferenceResponse
	decodeBody(t, rec, &resp)
	// full axes of 160 give 2*pi*160
	if resp.Circumference < 940 || resp.Circumference > 1070 {
		t.Errorf("circumference = %.1f", resp.Circumference)
	}
	if resp.MaskImage == "" || resp.PixelValue <= 0 {
		t.Errorf("mask image empty or pixel value %f", resp.PixelValue)
	}
}

func TestEnhanceImage(t *testing.T) {
	r := newImagingRouter(t)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, imageUpload(t, "/enhance-image"))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp map[string]string
	decodeBody(t, rec, &resp)
	if resp["enhancedImage"] == "" {
		t.Error("no enhanced image")
	}
}

func TestHealthTracking(t *testing.T) {
	r := newImagingRouter(t)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, jsonRequest(t, "POST", "/health-tracking", map[string]float64{
		"age": 35, "systolic_bp": 140, "diastolic_bp": 90, "bs": 13, "bt": 98, "heart_rate": 70,
	}))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp map[string]string
	decodeBody(t, rec, &resp)
	if resp["risk_level"] != "High Risk" {
		t.Errorf("risk_level = %q", resp["risk_level"])
	}
}

func TestImagingWithoutModelServer(t *testing.T) {
	r := chi.NewRouter()
	NewImagingEndpoints(inference.NewClient("")).RegisterRoutes(r)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, imageUpload(t, "/enhance-image"))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}
