package api

import (
	"encoding/json"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
)

// mustJSON marshals v, panicking on failure. Only used for response bodies
// built from this package's own fixed-shape structs, which always marshal.
func mustJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

// strictValidate checks the same `binding` struct tags gin's lenient path
// does, so both binding modes enforce one rule set.
var strictValidate = func() *validator.Validate {
	v := validator.New()
	v.SetTagName("binding")
	return v
}()

// bindStrict decodes the request body into v rejecting unknown fields, then
// validates the struct's binding tags. The agent surface binds strictly;
// the web surface keeps gin's lenient ShouldBindJSON.
func bindStrict(c *gin.Context, v any) error {
	dec := json.NewDecoder(c.Request.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	return strictValidate.Struct(v)
}
