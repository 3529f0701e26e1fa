package http

import (
	"encoding/json"
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
)

// bindStrict decodes the request body rejecting unknown keys, so arbitrary
// attribute bags cannot leak into passage records.
func bindStrict(c *gin.Context, out interface{}) error {
	dec := json.NewDecoder(c.Request.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	if err := binding.Validator.ValidateStruct(out); err != nil {
		return err
	}
	return nil
}
