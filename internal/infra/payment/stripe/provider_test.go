package stripe

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"bookbrief-billing/internal/domain"
	"bookbrief-billing/internal/domain/model"
	"bookbrief-billing/internal/domain/ports/adapter"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStripe records form posts and answers with canned JSON per path.
type fakeStripe struct {
	routes map[string]string
	forms  map[string]url.Values
}

func newFakeStripe(t *testing.T, routes map[string]string) (*fakeStripe, *Provider) {
	t.Helper()
	f := &fakeStripe{routes: routes, forms: map[string]url.Values{}}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		form := r.URL.Query()
		if r.Method == http.MethodPost {
			body, _ := io.ReadAll(r.Body)
			form, _ = url.ParseQuery(string(body))
		}
		f.forms[r.Method+" "+r.URL.Path] = form
		resp, ok := f.routes[r.Method+" "+r.URL.Path]
		w.Header().Set("Content-Type", "application/json")
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `{"error":{"type":"invalid_request_error","code":"resource_missing","message":"No such object"}}`)
			return
		}
		_, _ = io.WriteString(w, resp)
	}))
	t.Cleanup(ts.Close)

	logger := zerolog.Nop()
	return f, NewProvider("sk_test_123", NewBackends(ts.URL), nil, &logger)
}

func TestNewBackends(t *testing.T) {
	t.Run("should leave the default Stripe host when no url is configured", func(t *testing.T) {
		assert.Nil(t, NewBackends(""))

		logger := zerolog.Nop()
		p := NewProvider("sk_test_123", NewBackends(""), nil, &logger)
		require.NotNil(t, p.sc.Subscriptions.B)
	})

	t.Run("should route every backend to an explicit url", func(t *testing.T) {
		b := NewBackends("http://localhost:12111")
		require.NotNil(t, b)
		assert.NotNil(t, b.API)
		assert.Same(t, b.API, b.Connect)
	})
}

func TestProvider_FetchSubscription(t *testing.T) {
	t.Run("should decode the canonical subscription", func(t *testing.T) {
		_, p := newFakeStripe(t, map[string]string{"GET /v1/subscriptions/sub_1": subscriptionJSON})

		snap, err := p.FetchSubscription(context.Background(), "sub_1")
		require.NoError(t, err)

		assert.Equal(t, "pro-monthly", snap.TierID)
		assert.Equal(t, model.SubscriptionStatusTrialing, snap.Status)
		assert.True(t, snap.InTrial())
	})

	t.Run("should wrap API failures as provider lookups", func(t *testing.T) {
		_, p := newFakeStripe(t, nil)

		_, err := p.FetchSubscription(context.Background(), "sub_missing")
		assert.ErrorIs(t, err, domain.ErrProviderLookupFailed)
	})
}

func TestProvider_CreateCheckoutSession(t *testing.T) {
	f, p := newFakeStripe(t, map[string]string{
		"POST /v1/checkout/sessions": `{"id":"cs_1","object":"checkout.session","url":"https://checkout.stripe.com/c/cs_1"}`,
	})
	plan := &model.Plan{Key: "pro-monthly", PriceID: "price_pro", TrialFeePriceID: "price_fee", TrialDays: 7, Interval: model.IntervalMonth}

	cs, err := p.CreateCheckoutSession(context.Background(), adapter.CheckoutRequest{
		UserID: "u1", CustomerID: "cus_1", Plan: plan,
		SuccessURL: "https://app.test/ok", CancelURL: "https://app.test/cancel",
	})
	require.NoError(t, err)
	assert.Equal(t, "cs_1", cs.ID)
	assert.Equal(t, "https://checkout.stripe.com/c/cs_1", cs.URL)

	form := f.forms["POST /v1/checkout/sessions"]
	assert.Equal(t, "subscription", form.Get("mode"))
	assert.Equal(t, "cus_1", form.Get("customer"))
	assert.Equal(t, "u1", form.Get("metadata[user_id]"))
	assert.Equal(t, "u1", form.Get("subscription_data[metadata][user_id]"))
	assert.Equal(t, "7", form.Get("subscription_data[trial_period_days]"))
	assert.Equal(t, "price_pro", form.Get("line_items[0][price]"))
	assert.Equal(t, "price_fee", form.Get("line_items[1][price]"))
}

func TestProvider_Customers(t *testing.T) {
	f, p := newFakeStripe(t, map[string]string{
		"POST /v1/customers": `{"id":"cus_new","object":"customer"}`,
	})

	id, err := p.EnsureCustomer(context.Background(), "cus_existing", "u1", "u1@example.com")
	require.NoError(t, err)
	assert.Equal(t, "cus_existing", id)

	id, err = p.EnsureCustomer(context.Background(), "", "u1", "u1@example.com")
	require.NoError(t, err)
	assert.Equal(t, "cus_new", id)
	assert.Equal(t, "u1", f.forms["POST /v1/customers"].Get("metadata[user_id]"))
}

func TestProvider_SubscriptionChanges(t *testing.T) {
	f, p := newFakeStripe(t, map[string]string{
		"GET /v1/prices/price_vip":         `{"id":"price_vip","object":"price","unit_amount":1900}`,
		"POST /v1/subscriptions/sub_1":     `{"id":"sub_1","object":"subscription","cancel_at":1711886400}`,
		"POST /v1/billing_portal/sessions": `{"id":"bps_1","object":"billing_portal.session","url":"https://billing.stripe.com/p/1"}`,
	})
	ctx := context.Background()

	amount, err := p.PriceAmount(ctx, "price_vip")
	require.NoError(t, err)
	assert.EqualValues(t, 1900, amount)

	require.NoError(t, p.ChangePrice(ctx, "sub_1", "si_1", "price_vip", adapter.ProrationAlwaysInvoice))
	form := f.forms["POST /v1/subscriptions/sub_1"]
	assert.Equal(t, "si_1", form.Get("items[0][id]"))
	assert.Equal(t, "price_vip", form.Get("items[0][price]"))
	assert.Equal(t, "always_invoice", form.Get("proration_behavior"))
	assert.Equal(t, "false", form.Get("cancel_at_period_end"), "a price change lifts a scheduled cancellation")

	at, err := p.CancelAtPeriodEnd(ctx, "sub_1")
	require.NoError(t, err)
	assert.Equal(t, time.Unix(1711886400, 0).UTC(), at)
	assert.Equal(t, "true", f.forms["POST /v1/subscriptions/sub_1"].Get("cancel_at_period_end"))

	portal, err := p.CreatePortalSession(ctx, "cus_1", "https://app.test/account")
	require.NoError(t, err)
	assert.Equal(t, "https://billing.stripe.com/p/1", portal)
}

func TestProvider_ListInvoices(t *testing.T) {
	f, p := newFakeStripe(t, map[string]string{
		"GET /v1/invoices": `{"object":"list","url":"/v1/invoices","has_more":true,"data":[
			{"id":"in_2","object":"invoice","number":"A-2","status":"paid","amount_paid":900,"currency":"usd","created":1709294400,"hosted_invoice_url":"https://inv/2","invoice_pdf":"https://pdf/2"}]}`,
	})

	page, err := p.ListInvoices(context.Background(), "cus_1", "in_1", 10)
	require.NoError(t, err)

	require.Len(t, page.Invoices, 1)
	assert.Equal(t, "A-2", page.Invoices[0].Number)
	assert.EqualValues(t, 900, page.Invoices[0].AmountPaid)
	assert.True(t, page.HasMore)
	q := f.forms["GET /v1/invoices"]
	assert.Equal(t, "cus_1", q.Get("customer"))
	assert.Equal(t, "in_1", q.Get("starting_after"))
	assert.Equal(t, "10", q.Get("limit"))
}
