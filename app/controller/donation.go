package controller

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-donations/app/factory"
	"github.com/vibast-solutions/ms-go-donations/app/mapper"
	"github.com/vibast-solutions/ms-go-donations/app/service"
	"github.com/vibast-solutions/ms-go-donations/app/types"
)

const (
	codeInvalidRequest      = "INVALID_REQUEST"
	codeProviderUnavailable = "PROVIDER_UNAVAILABLE"
	codeIdempotencyConflict = "IDEMPOTENCY_CONFLICT"
	codeDonationNotFound    = "DONATION_NOT_FOUND"
	codeInvalidSignature    = "INVALID_SIGNATURE"
	codeInvalidPayload      = "INVALID_PAYLOAD"
	codeInternalError       = "INTERNAL_ERROR"

	webhookStatusOK               = "ok"
	webhookStatusAlreadyProcessed = "already_processed"
)

type DonationController struct {
	donationService *service.DonationService
	environment     string
	logger          logrus.FieldLogger
}

func NewDonationController(donationService *service.DonationService, environment string) *DonationController {
	return &DonationController{
		donationService: donationService,
		environment:     environment,
		logger:          factory.NewModuleLogger("donations-controller"),
	}
}

func (c *DonationController) Health(ctx echo.Context) error {
	codes := c.donationService.Providers()
	providers := make([]string, 0, len(codes))
	for _, code := range codes {
		providers = append(providers, string(code))
	}

	return ctx.JSON(http.StatusOK, &types.HealthResponse{
		Status:      "ok",
		Environment: c.environment,
		Providers:   providers,
	})
}

func (c *DonationController) CreateCheckout(ctx echo.Context) error {
	l := factory.LoggerWithContext(c.logger, ctx)

	req, err := types.NewCreateCheckoutRequestFromContext(ctx)
	if err != nil {
		return c.writeError(ctx, http.StatusBadRequest, codeInvalidRequest, "invalid request body")
	}
	if err := req.Validate(); err != nil {
		l.WithError(err).Debug("Checkout validation failed")
		return c.writeError(ctx, http.StatusBadRequest, codeInvalidRequest, err.Error())
	}

	l.WithFields(logrus.Fields{
		"amount":   req.GetAmount(),
		"provider": req.GetProvider(),
		"source":   req.GetSource(),
	}).Info("Checkout request received")

	result, err := c.donationService.CreateCheckout(ctx.Request().Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidRequest):
			return c.writeError(ctx, http.StatusBadRequest, codeInvalidRequest, err.Error())
		case errors.Is(err, service.ErrIdempotencyConflict):
			return c.writeError(ctx, http.StatusConflict, codeIdempotencyConflict, err.Error())
		case errors.Is(err, service.ErrProviderUnavailable):
			l.WithError(err).Error("Checkout creation failed")
			return c.writeError(ctx, http.StatusServiceUnavailable, codeProviderUnavailable, "payment provider is unavailable")
		default:
			l.WithError(err).Error("Checkout creation failed")
			return c.writeError(ctx, http.StatusInternalServerError, codeInternalError, "internal server error")
		}
	}

	statusCode := http.StatusCreated
	if result.Replayed {
		statusCode = http.StatusOK
	}
	return ctx.JSON(statusCode, mapper.DonationToCheckoutResponse(result.Donation))
}

func (c *DonationController) GetDonation(ctx echo.Context) error {
	req, err := types.NewGetDonationRequestFromContext(ctx)
	if err != nil {
		return c.writeError(ctx, http.StatusBadRequest, codeInvalidRequest, "invalid request")
	}
	if err := req.Validate(); err != nil {
		return c.writeError(ctx, http.StatusBadRequest, codeInvalidRequest, err.Error())
	}

	item, err := c.donationService.GetDonation(ctx.Request().Context(), req.GetId())
	if err != nil {
		if errors.Is(err, service.ErrDonationNotFound) {
			return c.writeError(ctx, http.StatusNotFound, codeDonationNotFound, "donation not found: "+req.GetId())
		}
		factory.LoggerWithContext(c.logger, ctx).WithError(err).Error("Get donation failed")
		return c.writeError(ctx, http.StatusInternalServerError, codeInternalError, "internal server error")
	}

	return ctx.JSON(http.StatusOK, mapper.DonationToResponse(item))
}

func (c *DonationController) ListDonationEvents(ctx echo.Context) error {
	req, err := types.NewGetDonationRequestFromContext(ctx)
	if err != nil {
		return c.writeError(ctx, http.StatusBadRequest, codeInvalidRequest, "invalid request")
	}
	if err := req.Validate(); err != nil {
		return c.writeError(ctx, http.StatusBadRequest, codeInvalidRequest, err.Error())
	}

	donation, events, err := c.donationService.ListDonationEvents(ctx.Request().Context(), req.GetId())
	if err != nil {
		if errors.Is(err, service.ErrDonationNotFound) {
			return c.writeError(ctx, http.StatusNotFound, codeDonationNotFound, "donation not found: "+req.GetId())
		}
		factory.LoggerWithContext(c.logger, ctx).WithError(err).Error("List donation events failed")
		return c.writeError(ctx, http.StatusInternalServerError, codeInternalError, "internal server error")
	}

	return ctx.JSON(http.StatusOK, mapper.PaymentEventsToResponse(donation, events))
}

// HandleWebhook answers duplicates with 200 so providers stop retrying, and
// invalid signatures with 401.
func (c *DonationController) HandleWebhook(ctx echo.Context) error {
	l := factory.LoggerWithContext(c.logger, ctx)

	req, err := types.NewHandleWebhookRequestFromContext(ctx)
	if err != nil {
		return c.writeError(ctx, http.StatusBadRequest, codeInvalidPayload, "invalid request body")
	}
	l = l.WithField("provider", req.GetProvider())
	if err := req.Validate(); err != nil {
		return c.writeError(ctx, http.StatusBadRequest, codeInvalidPayload, err.Error())
	}

	l.WithField("content_length", len(req.GetBody())).Info("Webhook received")

	if _, err := c.donationService.ProcessWebhook(ctx.Request().Context(), req); err != nil {
		switch {
		case errors.Is(err, service.ErrDuplicateEvent):
			l.WithError(err).Info("Webhook duplicate event")
			return ctx.JSON(http.StatusOK, &types.WebhookResponse{Status: webhookStatusAlreadyProcessed})
		case errors.Is(err, service.ErrInvalidSignature):
			l.WithError(err).Warn("Webhook signature invalid")
			return c.writeError(ctx, http.StatusUnauthorized, codeInvalidSignature, err.Error())
		case errors.Is(err, service.ErrInvalidPayload):
			l.WithError(err).Warn("Webhook payload invalid")
			return c.writeError(ctx, http.StatusBadRequest, codeInvalidPayload, err.Error())
		case errors.Is(err, service.ErrProviderUnavailable):
			l.WithError(err).Warn("Webhook for unavailable provider")
			return c.writeError(ctx, http.StatusBadRequest, codeProviderUnavailable, err.Error())
		default:
			l.WithError(err).Error("Webhook processing failed")
			return c.writeError(ctx, http.StatusInternalServerError, codeInternalError, "internal server error")
		}
	}

	return ctx.JSON(http.StatusOK, &types.WebhookResponse{Status: webhookStatusOK})
}

func (c *DonationController) writeError(ctx echo.Context, statusCode int, code, message string) error {
	return ctx.JSON(statusCode, &types.ErrorResponse{Error: code, Message: message})
}
