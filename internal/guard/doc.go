// Package guard проверяет Instruction до любого сетевого вызова.
//
// # Обзор
//
// Backend, выдающий Instructions, доверен лишь частично: компрометация,
// ошибка или MITM не должны превращать агента в открытый прокси,
// вектор XSS/внедрения кода или исчерпания ресурсов в сессии пользователя.
//
// Validator проверяет Instruction слоями, в фиксированном порядке,
// и останавливается на первом нарушении:
//
//  1. URL присутствует и корректен
//  2. Схема — только https
//  3. Хост входит в allowlist маркетплейсов (точное совпадение или поддомен)
//  4. Метод из белого списка (без туннелирующих методов)
//  5. Размер сериализованного тела ≤ 1 MiB
//  6. Тело не содержит подозрительных фрагментов
//  7. Ограничения на заголовки (количество, длина имени и значения)
//  8. Ограничения на файлы (количество, обязательные поля)
//
// Фиксированный порядок даёт детерминированные сообщения об ошибках.
// Частичной санитизации нет: Instruction принимается или отклоняется целиком.
//
// # Policy
//
// Allowlist доменов, список методов, лимиты и шаблоны подозрительного
// содержимого — это данные (Policy), а не логика. Они загружаются из
// конфигурации и могут расширяться без изменения кода.
//
// # Ограничения
//
// Проверка содержимого по регулярным выражениям — эвристика, а не
// санитайзер: возможны ложные срабатывания на безобидных подстроках
// и пропуски обфусцированных payload'ов.
package guard
