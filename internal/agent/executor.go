package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"sort"
	"strings"
	"time"

	"github.com/shaiso/marketagent/internal/domain"
	"github.com/shaiso/marketagent/internal/fetch"
)

// Executor выполняет принятую Instruction.
type Executor interface {
	Execute(ctx context.Context, inst domain.Instruction) (*Execution, error)
}

// Execution — итог выполнения Instruction.
//
// При терминальном HTTP-статусе Execute возвращает и Execution (с ответом),
// и ошибку *domain.HTTPStatusError.
type Execution struct {
	Result   *domain.ExecutionResult
	Attempts int
	Duration time.Duration
}

// HTTPExecutor выполняет Instruction через fetch.Client.
//
// Тело:
//   - JSON-объект отправляется как application/json
//   - JSON-строка отправляется как text/plain
//   - при наличии files запрос собирается как multipart/form-data:
//     поля объекта Body становятся полями формы, файлы — частями с заявленным Content-Type
//
// Явно заданный в Instruction заголовок Content-Type имеет приоритет
// (кроме multipart, где boundary задаётся при сборке).
type HTTPExecutor struct {
	client *fetch.Client
}

// NewHTTPExecutor создаёт HTTPExecutor.
func NewHTTPExecutor(client *fetch.Client) *HTTPExecutor {
	return &HTTPExecutor{client: client}
}

// Execute выполняет Instruction.
func (e *HTTPExecutor) Execute(ctx context.Context, inst domain.Instruction) (*Execution, error) {
	opts, err := buildOptions(inst)
	if err != nil {
		return nil, &domain.UnexpectedError{Op: "build request", Cause: err}
	}

	res, fetchErr := e.client.Fetch(ctx, inst.URL, opts)
	if res == nil {
		return nil, fetchErr
	}

	return &Execution{
		Result:   buildResult(res),
		Attempts: res.Attempts,
		Duration: res.TotalTime,
	}, fetchErr
}

// buildOptions переводит Instruction в параметры fetch.
func buildOptions(inst domain.Instruction) (fetch.Options, error) {
	header := http.Header{}
	for key, val := range inst.Headers {
		header.Set(key, val)
	}

	opts := fetch.Options{
		Method: inst.EffectiveMethod(),
		Header: header,
	}

	if len(inst.Files) > 0 {
		body, contentType, err := buildMultipart(inst)
		if err != nil {
			return fetch.Options{}, err
		}
		opts.Body = body
		header.Set("Content-Type", contentType)
		return opts, nil
	}

	if !inst.HasBody() {
		return opts, nil
	}

	opts.Body = []byte(inst.BodyText())
	if header.Get("Content-Type") == "" {
		if inst.IsStringBody() {
			header.Set("Content-Type", "text/plain; charset=utf-8")
		} else {
			header.Set("Content-Type", "application/json")
		}
	}
	return opts, nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

// buildMultipart собирает multipart/form-data из полей Body и файлов.
func buildMultipart(inst domain.Instruction) ([]byte, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	fields, err := formFields(inst)
	if err != nil {
		return nil, "", err
	}

	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if err := mw.WriteField(name, fields[name]); err != nil {
			return nil, "", fmt.Errorf("write field %q: %w", name, err)
		}
	}

	for _, f := range inst.Files {
		data, err := f.Decode()
		if err != nil {
			return nil, "", fmt.Errorf("%w: %v", ErrInvalidFile, err)
		}

		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
			quoteEscaper.Replace(f.FieldName), quoteEscaper.Replace(f.Filename)))
		h.Set("Content-Type", f.ContentType)

		part, err := mw.CreatePart(h)
		if err != nil {
			return nil, "", fmt.Errorf("create part %q: %w", f.FieldName, err)
		}
		if _, err := part.Write(data); err != nil {
			return nil, "", fmt.Errorf("write part %q: %w", f.FieldName, err)
		}
	}

	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart: %w", err)
	}
	return buf.Bytes(), mw.FormDataContentType(), nil
}

// formFields раскладывает JSON-объект Body в поля формы: строки как есть,
// остальные значения в JSON. Строковое тело не поддерживается вместе с файлами.
func formFields(inst domain.Instruction) (map[string]string, error) {
	fields := map[string]string{}
	if !inst.HasBody() {
		return fields, nil
	}
	if inst.IsStringBody() {
		return nil, fmt.Errorf("string body cannot be combined with files")
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(inst.Body, &obj); err != nil {
		return nil, fmt.Errorf("body must be a JSON object when files are attached: %w", err)
	}

	for key, raw := range obj {
		var s string
		if json.Unmarshal(raw, &s) == nil {
			fields[key] = s
			continue
		}
		fields[key] = string(raw)
	}
	return fields, nil
}

// buildResult формирует ответ для backend'а: заголовки (первое значение)
// и тело (JSON, иначе строка).
func buildResult(res *fetch.Result) *domain.ExecutionResult {
	headers := make(map[string]string, len(res.Header))
	for key := range res.Header {
		headers[key] = res.Header.Get(key)
	}

	var body any
	if len(res.Body) > 0 {
		if err := json.Unmarshal(res.Body, &body); err != nil {
			body = string(res.Body)
		}
	}

	return &domain.ExecutionResult{
		StatusCode: res.StatusCode,
		Headers:    headers,
		Body:       body,
	}
}
