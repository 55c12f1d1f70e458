package serviceworker

// workerTemplate is the generated offline worker. Entries are [url, md5] pairs;
// the hash is appended as a cache-busting query so a changed file is refetched.
const workerTemplate = `/**
 * Generated by assetbuilder. Do not edit: changes are overwritten by the gsw task.
 */
'use strict';

var precacheConfig = {{.Precache}};
var cacheName = 'sw-precache-v3-' + {{.CacheID}} + '-' + (self.registration ? self.registration.scope : '');
var hashParam = '_sw-precache';

function cacheURL(entry) {
  var url = new URL(entry[0], self.location);
  url.searchParams.set(hashParam, entry[1]);
  return url.toString();
}

var urlsToCacheKeys = new Map(precacheConfig.map(function(entry) {
  return [new URL(entry[0], self.location).toString(), cacheURL(entry)];
}));

self.addEventListener('install', function(event) {
  event.waitUntil(
    caches.open(cacheName).then(function(cache) {
      return cache.keys().then(function(requests) {
        var cached = new Set(requests.map(function(r) { return r.url; }));
        return Promise.all(Array.from(urlsToCacheKeys.values()).map(function(key) {
          if (cached.has(key)) { return null; }
          return fetch(new Request(key, {credentials: 'same-origin'})).then(function(response) {
            if (!response.ok) { throw new Error('Request for ' + key + ' returned ' + response.status); }
            return cache.put(key, response);
          });
        }));
      });
    }).then(function() { return self.skipWaiting(); })
  );
});

self.addEventListener('activate', function(event) {
  var expected = new Set(urlsToCacheKeys.values());
  event.waitUntil(
    caches.open(cacheName).then(function(cache) {
      return cache.keys().then(function(requests) {
        return Promise.all(requests.map(function(r) {
          if (!expected.has(r.url)) { return cache.delete(r); }
          return null;
        }));
      });
    }).then(function() { return self.clients.claim(); })
  );
});

self.addEventListener('fetch', function(event) {
  if (event.request.method !== 'GET') { return; }
  var url = new URL(event.request.url);
  url.hash = '';
  var key = urlsToCacheKeys.get(url.toString());
  if (!key && url.pathname.slice(-1) === '/') {
    key = urlsToCacheKeys.get(url.toString() + 'index.html');
  }
  if (!key) { return; }
  event.respondWith(
    caches.open(cacheName).then(function(cache) {
      return cache.match(key).then(function(response) {
        return response || fetch(event.request);
      });
    })
  );
});
{{range .ImportScripts}}
importScripts({{.}});{{end}}
`
