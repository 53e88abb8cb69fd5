package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"path"
	"strings"

	"github.com/OmGuptaIND/screenrec/app"
	"github.com/OmGuptaIND/screenrec/capture"
	"github.com/OmGuptaIND/screenrec/session"
	"github.com/OmGuptaIND/screenrec/store"
	"github.com/gofiber/fiber/v3"
	"go.uber.org/zap"
)

func (a *ApiServer) recordingStatus(c fiber.Ctx) error {
	return c.JSON(a.opts.Session.Status())
}

func (a *ApiServer) startRecording(c fiber.Ctx) error {
	switch a.opts.Session.State() {
	case session.StateRecording, session.StatePaused:
		return fiber.NewError(fiber.StatusConflict, "A recording is already in progress")
	}

	// The session outlives the request, so it is bound to the server context.
	err := a.opts.Session.Start(a.ctx)

	switch {
	case err == nil:
	case errors.Is(err, capture.ErrPermission):
		a.logger.Warn("capture permission denied", zap.Error(err))
		return fiber.NewError(fiber.StatusForbidden, "Screen or camera access was denied. Allow screen and camera access, then try again.")
	case errors.Is(err, session.ErrStartInProgress):
		return fiber.NewError(fiber.StatusConflict, "A recording is already being started")
	case errors.Is(err, session.ErrStartCancelled):
		return fiber.NewError(fiber.StatusConflict, "Recording start was cancelled")
	default:
		a.logger.Error("failed to start recording", zap.Error(err))
		return fiber.NewError(fiber.StatusInternalServerError, "Failed to start recording")
	}

	return c.Status(fiber.StatusCreated).JSON(a.opts.Session.Status())
}

func (a *ApiServer) pauseRecording(c fiber.Ctx) error {
	if !a.opts.Session.Pause() {
		return fiber.NewError(fiber.StatusConflict, "No recording to pause")
	}

	return c.JSON(a.opts.Session.Status())
}

func (a *ApiServer) resumeRecording(c fiber.Ctx) error {
	if !a.opts.Session.Resume() {
		return fiber.NewError(fiber.StatusConflict, "No paused recording to resume")
	}

	return c.JSON(a.opts.Session.Status())
}

func (a *ApiServer) stopRecording(c fiber.Ctx) error {
	_, err := a.opts.Session.Stop(c.UserContext())

	switch {
	case err == nil:
	case errors.Is(err, session.ErrNotActive):
		return fiber.NewError(fiber.StatusConflict, "No recording to stop")
	case errors.Is(err, session.ErrFinalization):
		return fiber.NewError(fiber.StatusInternalServerError, "Failed to finalize the recording")
	default:
		return err
	}

	return c.JSON(a.opts.Session.Status())
}

func (a *ApiServer) resetRecording(c fiber.Ctx) error {
	a.opts.Session.Reset()

	return c.JSON(a.opts.Session.Status())
}

func (a *ApiServer) downloadRecording(c fiber.Ctx) error {
	art := a.opts.Session.Artifact()
	if art == nil {
		return fiber.NewError(fiber.StatusNotFound, "No finished recording")
	}

	c.Attachment(art.FileName())
	c.Set(fiber.HeaderContentType, art.MimeType())

	return c.Send(art.Bytes())
}

func (a *ApiServer) creditsResponse() CreditsResponse {
	return CreditsResponse{
		Balance:  a.opts.App.Balance(),
		Packages: a.opts.App.Packages(),
		Costs: CreditCosts{
			SaveTutorial:    a.opts.App.SaveCost(),
			GenerateArticle: a.opts.App.ArticleCost(),
		},
	}
}

func (a *ApiServer) getCredits(c fiber.Ctx) error {
	return c.JSON(a.creditsResponse())
}

func (a *ApiServer) addCredits(c fiber.Ctx) error {
	var req AddCreditsRequest

	if err := json.Unmarshal(c.Body(), &req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request payload")
	}

	if _, err := a.opts.App.BuyCredits(req.Amount); err != nil {
		if errors.Is(err, app.ErrUnknownPackage) {
			return fiber.NewError(fiber.StatusBadRequest, fmt.Sprintf("Unknown credit package %d", req.Amount))
		}
		return err
	}

	return c.JSON(a.creditsResponse())
}

func (a *ApiServer) listTutorials(c fiber.Ctx) error {
	tutorials, err := a.opts.Registry.ListTutorials(c.UserContext())
	if err != nil {
		return err
	}

	return c.JSON(tutorials)
}

func (a *ApiServer) saveTutorial(c fiber.Ctx) error {
	var req SaveTutorialRequest

	if err := json.Unmarshal(c.Body(), &req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request payload")
	}

	tut, err := a.opts.App.SaveTutorial(c.UserContext(), req.Title)
	if err != nil {
		return a.appError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(tut)
}

func (a *ApiServer) getTutorial(c fiber.Ctx) error {
	tut, err := a.opts.Registry.GetTutorial(c.UserContext(), c.Params("id"))
	if err != nil {
		return a.appError(c, err)
	}

	return c.JSON(tut)
}

func (a *ApiServer) getThumbnail(c fiber.Ctx) error {
	thumb, err := a.opts.Registry.Thumbnail(c.UserContext(), c.Params("id"))
	if err != nil {
		return a.appError(c, err)
	}

	c.Set(fiber.HeaderContentType, "image/jpeg")

	return c.Send(thumb)
}

func (a *ApiServer) downloadTutorial(c fiber.Ctx) error {
	tut, data, err := a.opts.App.TutorialArtifact(c.UserContext(), c.Params("id"))
	if err != nil {
		return a.appError(c, err)
	}

	c.Attachment(tutorialFileName(tut))
	c.Set(fiber.HeaderContentType, tut.MimeType)

	return c.Send(data)
}

// tutorialFileName names a downloaded tutorial after its date, keeping the stored artifact's
// extension and falling back to one derived from the MIME type.
func tutorialFileName(tut *store.Tutorial) string {
	name := "tutorial-" + tut.Date

	if ext := path.Ext(tut.ArtifactRef); ext != "" {
		return name + ext
	}

	mediaType, _, err := mime.ParseMediaType(tut.MimeType)
	if err != nil {
		return name
	}

	if exts, _ := mime.ExtensionsByType(mediaType); len(exts) > 0 {
		return name + exts[0]
	}

	if _, sub, ok := strings.Cut(mediaType, "/"); ok && sub != "" {
		return name + "." + sub
	}

	return name
}

func (a *ApiServer) generateArticle(c fiber.Ctx) error {
	res, err := a.opts.App.GenerateArticle(c.UserContext())
	if err != nil {
		return a.appError(c, err)
	}

	return c.JSON(res)
}

// appError maps the paid action and registry errors to responses.
func (a *ApiServer) appError(c fiber.Ctx, err error) error {
	var creditErr *app.CreditError

	switch {
	case errors.As(err, &creditErr):
		return c.Status(fiber.StatusPaymentRequired).JSON(InsufficientCreditsResponse{
			Error:    "Insufficient credits",
			Required: creditErr.Required,
			Balance:  creditErr.Balance,
		})
	case errors.Is(err, app.ErrEmptyTitle):
		return fiber.NewError(fiber.StatusBadRequest, "Tutorial title is required")
	case errors.Is(err, app.ErrNoRecording):
		return fiber.NewError(fiber.StatusConflict, "No finished recording")
	case errors.Is(err, store.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, "Tutorial not found")
	case errors.Is(err, app.ErrArtifactUnavailable):
		return fiber.NewError(fiber.StatusNotFound, "Tutorial artifact is not available")
	}

	return err
}
