// Copyright 2026 Spawn Labs.
// Licensed under the AGPLv3, see LICENCE file for details.

package keyservice

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	stdtesting "testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/juju/errors"
	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/spawn-sh/spawn/internal/creds"
	"github.com/spawn-sh/spawn/internal/manifest"
)

func Test(t *stdtesting.T) { gc.TestingT(t) }

type serviceSuite struct {
	testing.IsolationSuite

	clock  *testclock.Clock
	store  *creds.Store
	mailer *recordingMailer
	svc    *Service
}

var _ = gc.Suite(&serviceSuite{})

type recordingMailer struct {
	sent []string
	err  error
}

func (m *recordingMailer) Send(to, subject, body string) error {
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, body)
	return nil
}

func (s *serviceSuite) SetUpTest(c *gc.C) {
	s.IsolationSuite.SetUpTest(c)
	s.PatchEnvironment("HCLOUD_TOKEN", "")
	s.PatchEnvironment("AWS_ACCESS_KEY_ID", "")
	s.PatchEnvironment("AWS_SECRET_ACCESS_KEY", "")

	s.clock = testclock.NewClock(time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC))
	s.store = &creds.Store{Dir: c.MkDir()}
	s.mailer = &recordingMailer{}
	svc, err := New(Config{
		Secret:     "svc-secret",
		AdminEmail: "ops@example.com",
		BaseURL:    "https://keys.example.com",
		Manifest: &manifest.Manifest{
			Clouds: map[string]manifest.CloudDef{
				"hetzner": {Name: "Hetzner", Type: "vm", Auth: "HCLOUD_TOKEN"},
				"aws":     {Name: "AWS", Type: "vm", Auth: "AWS_ACCESS_KEY_ID + AWS_SECRET_ACCESS_KEY"},
			},
		},
		Creds:  s.store,
		Clock:  s.clock,
		Mailer: s.mailer,
	})
	c.Assert(err, jc.ErrorIsNil)
	s.svc = svc
}

func (s *serviceSuite) requestBatch(c *gc.C, providers ...string) (string, string) {
	body, _ := json.Marshal(map[string]any{"providers": providers})
	req := httptest.NewRequest("POST", "/request-batch", strings.NewReader(string(body)))
	rec := httptest.NewRecorder()
	s.svc.Handler().ServeHTTP(rec, req)
	c.Assert(rec.Code, gc.Equals, http.StatusCreated)
	var resp map[string]any
	c.Assert(json.Unmarshal(rec.Body.Bytes(), &resp), jc.ErrorIsNil)
	c.Assert(s.mailer.sent, gc.Not(gc.HasLen), 0)
	link := s.mailer.sent[len(s.mailer.sent)-1]
	u, err := url.Parse(link)
	c.Assert(err, jc.ErrorIsNil)
	return resp["batch_id"].(string), u.RequestURI()
}

func (s *serviceSuite) TestRequestBatchEmailsSignedLink(c *gc.C) {
	batchID, uri := s.requestBatch(c, "hetzner")
	c.Check(uri, jc.Contains, "/batch/"+batchID)
	c.Check(uri, jc.Contains, "exp=")
	c.Check(uri, jc.Contains, "sig=")
}

func (s *serviceSuite) TestMailFailureDropsBatch(c *gc.C) {
	s.mailer.err = errors.New("smtp down")
	body, _ := json.Marshal(map[string]any{"providers": []string{"hetzner"}})
	req := httptest.NewRequest("POST", "/request-batch", strings.NewReader(string(body)))
	rec := httptest.NewRecorder()
	s.svc.Handler().ServeHTTP(rec, req)
	c.Check(rec.Code, gc.Equals, http.StatusBadGateway)
	c.Check(s.svc.batches, gc.HasLen, 0)
}

func (s *serviceSuite) TestVerify(c *gc.C) {
	exp := s.clock.Now().Add(time.Hour).Unix()
	sig := s.svc.sign("b1", exp)
	c.Check(s.svc.verify("b1", fmt.Sprint(exp), sig), jc.IsTrue)
	c.Check(s.svc.verify("b2", fmt.Sprint(exp), sig), jc.IsFalse)
	c.Check(s.svc.verify("b1", fmt.Sprint(exp), sig[:len(sig)-2]+"00"), jc.IsFalse)

	past := s.clock.Now().Add(-time.Second).Unix()
	c.Check(s.svc.verify("b1", fmt.Sprint(past), s.svc.sign("b1", past)), jc.IsFalse)
}

func (s *serviceSuite) TestFormHeaders(c *gc.C) {
	_, uri := s.requestBatch(c, "hetzner")
	req := httptest.NewRequest("GET", uri, nil)
	rec := httptest.NewRecorder()
	s.svc.Handler().ServeHTTP(rec, req)
	c.Assert(rec.Code, gc.Equals, http.StatusOK)
	c.Check(rec.Header().Get("X-Content-Type-Options"), gc.Equals, "nosniff")
	c.Check(rec.Header().Get("Content-Security-Policy"), jc.Contains, "default-src 'none'")
	c.Check(rec.Body.String(), jc.Contains, "HCLOUD_TOKEN")
}

func (s *serviceSuite) TestExpiredLinkRefused(c *gc.C) {
	_, uri := s.requestBatch(c, "hetzner")
	s.clock.Advance(25 * time.Hour)
	req := httptest.NewRequest("GET", uri, nil)
	rec := httptest.NewRecorder()
	s.svc.Handler().ServeHTTP(rec, req)
	c.Check(rec.Code, gc.Equals, http.StatusForbidden)
}

func (s *serviceSuite) submit(c *gc.C, uri string, values url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest("POST", uri, strings.NewReader(values.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.RemoteAddr = "198.51.100.7:4242"
	rec := httptest.NewRecorder()
	s.svc.Handler().ServeHTTP(rec, req)
	return rec
}

func (s *serviceSuite) TestSubmitFulfillsProvider(c *gc.C) {
	_, uri := s.requestBatch(c, "hetzner")
	rec := s.submit(c, uri, url.Values{"hetzner.HCLOUD_TOKEN": {"tok123"}})
	c.Assert(rec.Code, gc.Equals, http.StatusOK)

	bundle, err := s.store.Load("hetzner")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(bundle["HCLOUD_TOKEN"], gc.Equals, "tok123")

	// Fully fulfilled batches are single-use.
	rec = s.submit(c, uri, url.Values{"hetzner.HCLOUD_TOKEN": {"other"}})
	c.Check(rec.Code, gc.Equals, http.StatusNotFound)
}

func (s *serviceSuite) TestSubmitPartialProviderStaysPending(c *gc.C) {
	_, uri := s.requestBatch(c, "aws")
	rec := s.submit(c, uri, url.Values{"aws.AWS_ACCESS_KEY_ID": {"AKIA123"}})
	c.Assert(rec.Code, gc.Equals, http.StatusOK)
	var resp map[string]any
	c.Assert(json.Unmarshal(rec.Body.Bytes(), &resp), jc.ErrorIsNil)
	c.Check(resp["remaining"], gc.DeepEquals, []any{"aws"})
	_, err := s.store.Load("aws")
	c.Check(err, jc.ErrorIs, errors.NotFound)

	rec = s.submit(c, uri, url.Values{"aws.AWS_SECRET_ACCESS_KEY": {"wJalrXUtnFEMI"}})
	c.Assert(rec.Code, gc.Equals, http.StatusOK)
	bundle, err := s.store.Load("aws")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(bundle["AWS_ACCESS_KEY_ID"], gc.Equals, "AKIA123")
}

func (s *serviceSuite) TestSubmitRejectsShellCharacters(c *gc.C) {
	_, uri := s.requestBatch(c, "hetzner")
	rec := s.submit(c, uri, url.Values{"hetzner.HCLOUD_TOKEN": {"tok;rm -rf /"}})
	c.Check(rec.Code, gc.Equals, http.StatusBadRequest)
	_, err := s.store.Load("hetzner")
	c.Check(err, jc.ErrorIs, errors.NotFound)
}

func (s *serviceSuite) TestSubmitRateLimited(c *gc.C) {
	_, uri := s.requestBatch(c, "aws")
	status := []int{}
	for i := 0; i < submitCapacity+2; i++ {
		rec := s.submit(c, uri, url.Values{})
		status = append(status, rec.Code)
	}
	c.Check(status[0], gc.Equals, http.StatusOK)
	c.Check(status[len(status)-1], gc.Equals, http.StatusTooManyRequests)
}

func (s *serviceSuite) TestDeleteKey(c *gc.C) {
	c.Assert(s.store.Save("hetzner", creds.Bundle{"HCLOUD_TOKEN": "tok"}), jc.ErrorIsNil)

	req := httptest.NewRequest("DELETE", "/key/hetzner", nil)
	req.Header.Set("Authorization", "Bearer svc-secret")
	rec := httptest.NewRecorder()
	s.svc.Handler().ServeHTTP(rec, req)
	c.Check(rec.Code, gc.Equals, http.StatusOK)
	_, err := s.store.Load("hetzner")
	c.Check(err, jc.ErrorIs, errors.NotFound)
}

func (s *serviceSuite) TestDeleteKeyUnauthorized(c *gc.C) {
	req := httptest.NewRequest("DELETE", "/key/hetzner", nil)
	req.Header.Set("Authorization", "Bearer nope")
	rec := httptest.NewRecorder()
	s.svc.Handler().ServeHTTP(rec, req)
	c.Check(rec.Code, gc.Equals, http.StatusUnauthorized)
}
