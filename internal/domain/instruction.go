package domain

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// Instruction — описание одного HTTP-вызова, который агент выполняет
// от имени пользователя.
//
// Instruction приходит от backend'а, которому агент доверяет лишь частично,
// поэтому перед выполнением она целиком проходит guard.Validator.
// Instruction неизменяема: её либо принимают полностью, либо отклоняют.
type Instruction struct {
	// URL — полный адрес целевого ресурса.
	URL string `json:"url"`

	// Method — HTTP-метод. Пустое значение означает GET.
	Method string `json:"method,omitempty"`

	// Headers — дополнительные заголовки запроса.
	Headers map[string]string `json:"headers,omitempty"`

	// Body — тело запроса: JSON-объект или JSON-строка.
	Body json.RawMessage `json:"body,omitempty"`

	// Files — вложения, отправляемые как multipart/form-data.
	Files []FileAttachment `json:"files,omitempty"`
}

// FileAttachment — файл, прикреплённый к Instruction.
type FileAttachment struct {
	// FieldName — имя поля формы.
	FieldName string `json:"field_name"`

	// Filename — имя файла.
	Filename string `json:"filename"`

	// ContentType — заявленный MIME-тип.
	ContentType string `json:"content_type"`

	// Data — содержимое в base64.
	Data string `json:"data"`
}

// IsComplete проверяет, что все четыре обязательных поля заполнены.
func (f FileAttachment) IsComplete() bool {
	return f.FieldName != "" && f.Filename != "" && f.ContentType != "" && f.Data != ""
}

// Decode декодирует содержимое файла из base64.
func (f FileAttachment) Decode() ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(f.Data)
	if err != nil {
		return nil, fmt.Errorf("decode file %q: %w", f.Filename, err)
	}
	return data, nil
}

// EffectiveMethod возвращает метод в верхнем регистре (GET, если не указан).
func (i Instruction) EffectiveMethod() string {
	if i.Method == "" {
		return "GET"
	}
	return strings.ToUpper(i.Method)
}

// HasBody возвращает true, если тело задано и не равно JSON null.
func (i Instruction) HasBody() bool {
	trimmed := bytes.TrimSpace(i.Body)
	return len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null"))
}

// IsStringBody возвращает true, если тело — JSON-строка.
func (i Instruction) IsStringBody() bool {
	trimmed := bytes.TrimSpace(i.Body)
	return len(trimmed) > 0 && trimmed[0] == '"'
}

// BodyText возвращает сериализованное тело в том виде, в котором оно уйдёт в сеть:
// саму строку для строкового тела и компактный JSON (без HTML-экранирования)
// для объекта. Некорректный JSON возвращается как есть.
func (i Instruction) BodyText() string {
	if !i.HasBody() {
		return ""
	}

	var v any
	if err := json.Unmarshal(i.Body, &v); err != nil {
		return string(i.Body)
	}
	if s, ok := v.(string); ok {
		return s
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return string(i.Body)
	}
	return strings.TrimSuffix(buf.String(), "\n")
}

// StringBody собирает JSON-строку для поля Body.
func StringBody(s string) json.RawMessage {
	raw, _ := json.Marshal(s)
	return raw
}

// JSONBody сериализует значение для поля Body.
func JSONBody(v any) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return raw
}
