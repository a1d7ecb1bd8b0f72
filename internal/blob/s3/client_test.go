package s3blob

import (
	"strings"
	"testing"
)

func TestClientConfigValidate(t *testing.T) {
	if err := (ClientConfig{Bucket: "b", Region: "us-east-1"}).validate(); err != nil {
		t.Fatalf("default credential chain must be allowed: %v", err)
	}
	err := ClientConfig{AccessKey: "ak"}.validate()
	if err == nil {
		t.Fatal("expected errors")
	}
	for _, want := range []string{"bucket", "region", "secret key"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("missing %q in %v", want, err)
		}
	}
}

func TestEndpointURL(t *testing.T) {
	cases := map[string]string{
		endpointURL("minio:9000", false):             "http://minio:9000",
		endpointURL("minio:9000", true):              "https://minio:9000",
		endpointURL("https://r2.example.com", false): "https://r2.example.com",
	}
	for got, want := range cases {
		if got != want {
			t.Fatalf("got %s, want %s", got, want)
		}
	}
}
