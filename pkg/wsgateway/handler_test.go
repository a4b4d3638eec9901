package wsgateway

import (
	"testing"

	"github.com/CoderRahul01/unideploy/pkg/logbroker"
)

func TestTranslateStatusTransition(t *testing.T) {
	frame := translate("cloning", logbroker.Line{Stream: "system", Text: "status: building"})
	if frame.Status != "building" {
		t.Fatalf("Status = %q, want building", frame.Status)
	}
}

func TestTranslateStdoutCarriesCurrentStatus(t *testing.T) {
	frame := translate("building", logbroker.Line{Stream: "stdout", Text: "npm install"})
	if frame.Status != "building" || frame.Log != "npm install" {
		t.Fatalf("got %+v", frame)
	}
}

func TestTranslateLiveExtractsDomain(t *testing.T) {
	frame := translate("deploying", logbroker.Line{Stream: "system", Text: "deployment live at https://foo.app.example.com"})
	if frame.Domain != "foo.app.example.com" {
		t.Fatalf("Domain = %q", frame.Domain)
	}
}

func TestTranslateFailureExtractsError(t *testing.T) {
	frame := translate("building", logbroker.Line{Stream: "system", Text: "failed: build exited 1"})
	if frame.Error != "build exited 1" {
		t.Fatalf("Error = %q", frame.Error)
	}
}

func TestCheckOriginEmptyAllowsAny(t *testing.T) {
	if !checkOrigin(nil)(nil) {
		t.Fatal("expected empty allowlist to permit any origin")
	}
}
